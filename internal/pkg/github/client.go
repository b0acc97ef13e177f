package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/coolwithyou/review_go_server/config"
)

// APIError GitHub 接口错误，保留状态码供重试分类
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error: status=%d, %s", e.StatusCode, e.Message)
}

// IsTransient 限流和 5xx 视为暂时性错误，值得重试
func IsTransient(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		// 网络层错误（连接重置、超时等）一律按暂时性处理
		return true
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

// Repo 仓库摘要
type Repo struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	FullName      string     `json:"full_name"`
	DefaultBranch string     `json:"default_branch"`
	Archived      bool       `json:"archived"`
	PushedAt      *time.Time `json:"pushed_at"`
}

// CommitRef 列表接口返回的提交引用（不含文件明细）
type CommitRef struct {
	SHA     string `json:"sha"`
	Message string
	Author  string
	Date    time.Time
}

// CommitFile 提交内单个文件的变更
type CommitFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

// CommitDetail 单提交完整统计
type CommitDetail struct {
	SHA       string
	Message   string
	Author    string
	Date      time.Time
	Additions int
	Deletions int
	Files     []CommitFile
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient Token 通过 oauth2 静态凭证注入请求头
func NewClient(cfg *config.GitHubConfig) *Client {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}

	var httpClient *http.Client
	if cfg.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.Background(), src)
	} else {
		httpClient = &http.Client{}
	}
	httpClient.Timeout = time.Duration(timeout) * time.Second

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// ListRepos 列出组织下全部仓库，翻页取完
func (c *Client) ListRepos(ctx context.Context, org string, includeArchived bool) ([]*Repo, error) {
	var all []*Repo
	for page := 1; ; page++ {
		endpoint := fmt.Sprintf("%s/orgs/%s/repos?type=all&per_page=100&page=%d",
			c.baseURL, url.PathEscape(org), page)

		var repos []*Repo
		if err := c.getJSON(ctx, endpoint, &repos); err != nil {
			return nil, err
		}
		if len(repos) == 0 {
			break
		}

		for _, repo := range repos {
			if repo.Archived && !includeArchived {
				continue
			}
			all = append(all, repo)
		}

		if len(repos) < 100 {
			break
		}
	}
	return all, nil
}

// commitItem GitHub commits 列表接口的原始结构
type commitItem struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
}

// ListCommits 列出仓库内指定作者在时间窗口内的提交
func (c *Client) ListCommits(ctx context.Context, repoFullName, author string, since, until time.Time) ([]*CommitRef, error) {
	var all []*CommitRef
	for page := 1; ; page++ {
		endpoint := fmt.Sprintf("%s/repos/%s/commits?author=%s&since=%s&until=%s&per_page=100&page=%s",
			c.baseURL, repoFullName,
			url.QueryEscape(author),
			url.QueryEscape(since.Format(time.RFC3339)),
			url.QueryEscape(until.Format(time.RFC3339)),
			strconv.Itoa(page))

		var items []commitItem
		if err := c.getJSON(ctx, endpoint, &items); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			ref := &CommitRef{
				SHA:     item.SHA,
				Message: item.Commit.Message,
				Date:    item.Commit.Author.Date,
			}
			if item.Author != nil {
				ref.Author = item.Author.Login
			} else {
				ref.Author = item.Commit.Author.Name
			}
			all = append(all, ref)
		}

		if len(items) < 100 {
			break
		}
	}
	return all, nil
}

// commitDetailItem 单提交接口的原始结构
type commitDetailItem struct {
	commitItem
	Stats struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
	Files []CommitFile `json:"files"`
}

// GetCommitDetail 获取单提交的文件级统计和 patch
func (c *Client) GetCommitDetail(ctx context.Context, repoFullName, sha string) (*CommitDetail, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/commits/%s", c.baseURL, repoFullName, sha)

	var item commitDetailItem
	if err := c.getJSON(ctx, endpoint, &item); err != nil {
		return nil, err
	}

	detail := &CommitDetail{
		SHA:       item.SHA,
		Message:   item.Commit.Message,
		Date:      item.Commit.Author.Date,
		Additions: item.Stats.Additions,
		Deletions: item.Stats.Deletions,
		Files:     item.Files,
	}
	if item.Author != nil {
		detail.Author = item.Author.Login
	} else {
		detail.Author = item.Commit.Author.Name
	}
	return detail, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	return json.Unmarshal(body, dest)
}
