package service

import (
	"fmt"

	"arc/cmd/root"
	"arc/internal/config"
	"arc/internal/rpc"
)

/**
 * Connect to the admin API of the instance named by the configuration
 * @returns {rpc.HTTPClient} client, the caller closes it
 * @returns {*config.Config} configuration used to locate the instance
 * @returns {error} configuration errors, rpc.ErrNoInstance or rpc.ErrNoAdminAPI
 */
func connect() (rpc.HTTPClient, *config.Config, error) {
	cfg, err := root.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	httpCfg, _, err := rpc.ConfigForInstance(cfg.BaseDir, cfg.Name)
	if err != nil {
		return nil, cfg, err
	}
	return rpc.NewHTTPClient(httpCfg), cfg, nil
}

// call sends one request and decodes a successful JSON answer into out
func call(client rpc.HTTPClient, method, path string, params map[string]interface{}, out interface{}) error {
	var (
		resp *rpc.HTTPResponse
		err  error
	)
	if method == "POST" {
		resp, err = client.Post(path, nil)
	} else {
		resp, err = client.Get(path, params)
	}
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("admin API returned error(%d): %s", resp.StatusCode, resp.Error)
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}
