package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"arc/internal/descriptor"
	"arc/internal/models"
)

var (
	ErrNoInstance = errors.New("no running instance found")
	ErrNoAdminAPI = errors.New("instance does not expose an admin API")
)

// HTTPClient 定义管理接口客户端
type HTTPClient interface {
	Get(path string, params map[string]interface{}) (*HTTPResponse, error)
	Post(path string, data interface{}) (*HTTPResponse, error)
	Close() error
}

// HTTPConfig 定义HTTP客户端配置
type HTTPConfig struct {
	Address string        // admin API address: socket path or host:port
	Network string        // unix, tcp
	Timeout time.Duration // 默认超时时间
	BaseURL string        // 基础URL
}

// HTTPResponse 定义HTTP响应结构
type HTTPResponse struct {
	StatusCode int                 `json:"statusCode"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
	Error      string              `json:"error"`
}

// OK reports a 2xx answer
func (r *HTTPResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals a successful JSON body into v, or returns the server error
func (r *HTTPResponse) Decode(v interface{}) error {
	if !r.OK() {
		return fmt.Errorf("%d: %s", r.StatusCode, r.Error)
	}
	return json.Unmarshal(r.Body, v)
}

/**
 * Build the client configuration for an admin address
 * @param {string} address - absolute socket path or host:port
 * @returns {*HTTPConfig} unix network for paths, tcp otherwise
 */
func ConfigForAddress(address string) *HTTPConfig {
	c := &HTTPConfig{
		Address: address,
		Network: "tcp",
		Timeout: 30 * time.Second,
		BaseURL: "http://localhost",
	}
	if filepath.IsAbs(address) {
		c.Network = "unix"
	} else {
		c.BaseURL = "http://" + address
	}
	return c
}

/**
 * Locate the admin API of a running instance through its descriptor
 * @param {string} baseDir - project base directory
 * @param {string} name - instance name
 * @returns {*HTTPConfig} client configuration
 * @returns {*descriptor.Descriptor} the live descriptor, also set with ErrNoAdminAPI
 * @returns {error} ErrNoInstance or ErrNoAdminAPI
 */
func ConfigForInstance(baseDir, name string) (*HTTPConfig, *descriptor.Descriptor, error) {
	d := descriptor.Read(baseDir, name)
	if d == nil {
		return nil, nil, fmt.Errorf("%w: '%s' in %s", ErrNoInstance, name, descriptor.Dir(baseDir))
	}
	if d.AdminAddress == "" {
		return nil, d, fmt.Errorf("%w (PID: %d)", ErrNoAdminAPI, d.Pid)
	}
	return ConfigForAddress(d.AdminAddress), d, nil
}

// buildURL 构建完整的URL
func buildURL(baseURL, path string, params map[string]interface{}) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	if u.Path == "" {
		u.Path = path
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	}

	if params != nil {
		q := u.Query()
		for key, value := range params {
			q.Set(key, fmt.Sprintf("%v", value))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// serializeData 序列化请求数据
func serializeData(data interface{}) (io.Reader, error) {
	if data == nil {
		return nil, nil
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize data: %w", err)
	}
	return bytes.NewReader(jsonData), nil
}

// deserializeResponse 读取响应，非2xx时从 models.ErrorResponse 中提取错误
func deserializeResponse(resp *http.Response) (*HTTPResponse, error) {
	defer resp.Body.Close()
	httpResp := &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	httpResp.Body = body
	if httpResp.OK() {
		return httpResp, nil
	}
	if len(body) == 0 {
		httpResp.Error = resp.Status
	} else {
		var errBody models.ErrorResponse
		if err := json.Unmarshal(body, &errBody); err != nil {
			httpResp.Error = strings.TrimSpace(string(body))
		} else {
			httpResp.Error = errBody.Error
		}
	}
	if httpResp.Error == "" {
		httpResp.Error = "Unknown error"
	}
	return httpResp, nil
}
