package rpc

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"arc/internal/logger"
)

// httpClient HTTP客户端实现
type httpClient struct {
	config    *HTTPConfig
	client    *http.Client
	transport *http.Transport
}

/**
 * Create a client for the admin API of an instance
 * @param {*HTTPConfig} config - address, network and timeout
 * @returns {HTTPClient} client, connections are dialed lazily
 * @description
 * - For the unix network every request is dialed to the socket path,
 *   whatever host the URL names
 * @example
 * cfg, _, err := rpc.ConfigForInstance(baseDir, "default")
 * client := rpc.NewHTTPClient(cfg)
 * defer client.Close()
 */
func NewHTTPClient(config *HTTPConfig) HTTPClient {
	transport := &http.Transport{}
	if config.Network == "unix" {
		address := config.Address
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", address)
		}
	}
	return &httpClient{
		config:    config,
		transport: transport,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
	}
}

// Get 发送GET请求
func (c *httpClient) Get(path string, params map[string]interface{}) (*HTTPResponse, error) {
	url, err := buildURL(c.config.BaseURL, path, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}
	logger.Debugf("Sending GET request to %s", url)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

/**
 * Send a POST request with an optional JSON body
 * @param {string} path - API path
 * @param {interface{}} data - body, nil for none
 * @returns {*HTTPResponse} status, headers, raw body and extracted error
 */
func (c *httpClient) Post(path string, data interface{}) (*HTTPResponse, error) {
	url, err := buildURL(c.config.BaseURL, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}
	body, err := serializeData(data)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Sending POST request to %s", url)

	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func (c *httpClient) do(req *http.Request) (*HTTPResponse, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s://%s failed: %w", c.config.Network, c.config.Address, err)
	}
	return deserializeResponse(resp)
}

// Close 关闭客户端连接
func (c *httpClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}
