package provenance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "VaultPilot/internal/errors"
)

const (
	defaultEndpoint = "https://api.pinata.cloud/pinning/pinJSONToIPFS"
	defaultGateway  = "gateway.pinata.cloud"
	defaultMirror   = "ipfs.io"
	defaultTimeout  = 30 * time.Second

	// documentName 是上传文档在固定元数据中的名字。
	documentName = "vaultpilot-yield-strategy"
)

// Result 是一次成功发布的产物。
type Result struct {
	CID          string `json:"cid"`
	RetrievalURL string `json:"retrieval_url"`
	MirrorURL    string `json:"mirror_url"`
}

// Publisher 将策略文档发布到内容寻址存储。
type Publisher interface {
	Publish(ctx context.Context, document json.RawMessage) (*Result, error)
}

// Config 描述接入内容寻址存储服务所需的信息。
type Config struct {
	Endpoint    string
	Credential  string
	GatewayHost string
	MirrorHost  string
	Timeout     time.Duration
}

// Client 通过 HTTP 调用 Pinata 风格的 pin-JSON 接口。
type Client struct {
	endpoint    string
	credential  string
	gatewayHost string
	mirrorHost  string
	httpClient  *http.Client
}

// NewClient 根据配置创建发布客户端。
func NewClient(cfg Config) (*Client, error) {
	credential := strings.TrimSpace(cfg.Credential)
	if credential == "" {
		return nil, xerrors.New(xerrors.CodeConfigurationFailure, "未提供内容存储访问凭证")
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	gateway := strings.TrimSpace(cfg.GatewayHost)
	if gateway == "" {
		gateway = defaultGateway
	}
	mirror := strings.TrimSpace(cfg.MirrorHost)
	if mirror == "" {
		mirror = defaultMirror
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		endpoint:    endpoint,
		credential:  credential,
		gatewayHost: gateway,
		mirrorHost:  mirror,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// Publish 上传策略文档并返回内容标识符与检索地址。
// 请求 CIDv1，元数据固定标记为收益策略文档。
func (c *Client) Publish(ctx context.Context, document json.RawMessage) (*Result, error) {
	if len(document) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "待发布的文档为空")
	}

	payload, err := json.Marshal(map[string]any{
		"pinataContent": document,
		"pinataMetadata": map[string]any{
			"name": documentName,
		},
		"pinataOptions": map[string]any{
			"cidVersion": 1,
		},
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "序列化发布请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "构建发布请求失败")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.credential)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "请求内容存储服务失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodePublishFailure,
			fmt.Sprintf("内容存储服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			xerrors.WithMetadata("status", fmt.Sprintf("%d", resp.StatusCode)))
	}

	var decoded struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "解析内容存储响应失败")
	}
	cid := strings.TrimSpace(decoded.IpfsHash)
	if cid == "" {
		return nil, xerrors.New(xerrors.CodePublishFailure, "内容存储响应缺少内容标识符")
	}

	return &Result{
		CID:          cid,
		RetrievalURL: fmt.Sprintf("https://%s/ipfs/%s", c.gatewayHost, cid),
		MirrorURL:    fmt.Sprintf("https://%s/ipfs/%s", c.mirrorHost, cid),
	}, nil
}

var _ Publisher = (*Client)(nil)
