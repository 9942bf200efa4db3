package gitsync

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RESTClient is the §4.6 fallback path: a small hand-rolled HTTP client
// against a VCS host's blob/tree/commit/ref data API, used only when the CLI
// push path fails. No repo in the retrieval pack wires a generic VCS REST
// client library, so this mirrors internal/llm.Client's own hand-written
// request/response JSON-struct idiom rather than reaching for an unvalidated
// dependency.
type RESTClient struct {
	baseURL    string
	owner      string
	repo       string
	token      string
	httpClient *http.Client
}

// NewRESTClient constructs a RESTClient. baseURL is the API root (e.g.
// "https://api.example.com"); owner/repo identify the remote repository.
func NewRESTClient(baseURL, owner, repo, token string) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		owner:      owner,
		repo:       repo,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type blobRequest struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type blobResponse struct {
	SHA string `json:"sha"`
}

type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type treeRequest struct {
	BaseTree string      `json:"base_tree"`
	Tree     []treeEntry `json:"tree"`
}

type treeResponse struct {
	SHA string `json:"sha"`
}

type commitRequest struct {
	Message string   `json:"message"`
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
}

type commitResponse struct {
	SHA string `json:"sha"`
}

type refUpdateRequest struct {
	SHA   string `json:"sha"`
	Force bool   `json:"force"`
}

type apiErrorBody struct {
	Message string `json:"message"`
}

// FileBlob is one non-excluded, non-binary, non-conflict-marker-containing
// file from the working-copy diff (§4.6).
type FileBlob struct {
	Path    string
	Content string
}

// PublishTree builds a tree from blobs, commits it with parent as the
// current remote HEAD, and moves branch to the new commit, mirroring §4.6's
// fallback path: "build a tree via the VCS HTTP data API ... create a commit
// whose parent is the live remote HEAD, move the branch ref to it."
func (c *RESTClient) PublishTree(ctx context.Context, branch, parentSHA, message string, blobs []FileBlob) (string, error) {
	entries := make([]treeEntry, 0, len(blobs))
	for _, b := range blobs {
		blobSHA, err := c.createBlob(ctx, b.Content)
		if err != nil {
			return "", fmt.Errorf("gitsync: create blob for %s: %w", b.Path, err)
		}
		entries = append(entries, treeEntry{Path: b.Path, Mode: "100644", Type: "blob", SHA: blobSHA})
	}

	treeSHA, err := c.createTree(ctx, parentSHA, entries)
	if err != nil {
		return "", fmt.Errorf("gitsync: create tree: %w", err)
	}

	commitSHA, err := c.createCommit(ctx, message, treeSHA, []string{parentSHA})
	if err != nil {
		return "", fmt.Errorf("gitsync: create commit: %w", err)
	}

	if err := c.updateRef(ctx, branch, commitSHA); err != nil {
		return "", fmt.Errorf("gitsync: update ref %s: %w", branch, err)
	}

	return commitSHA, nil
}

func (c *RESTClient) createBlob(ctx context.Context, content string) (string, error) {
	req := blobRequest{Content: base64.StdEncoding.EncodeToString([]byte(content)), Encoding: "base64"}
	var resp blobResponse
	path := fmt.Sprintf("/repos/%s/%s/git/blobs", c.owner, c.repo)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", err
	}
	return resp.SHA, nil
}

func (c *RESTClient) createTree(ctx context.Context, baseTree string, entries []treeEntry) (string, error) {
	req := treeRequest{BaseTree: baseTree, Tree: entries}
	var resp treeResponse
	path := fmt.Sprintf("/repos/%s/%s/git/trees", c.owner, c.repo)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", err
	}
	return resp.SHA, nil
}

func (c *RESTClient) createCommit(ctx context.Context, message, tree string, parents []string) (string, error) {
	req := commitRequest{Message: message, Tree: tree, Parents: parents}
	var resp commitResponse
	path := fmt.Sprintf("/repos/%s/%s/git/commits", c.owner, c.repo)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", err
	}
	return resp.SHA, nil
}

func (c *RESTClient) updateRef(ctx context.Context, branch, sha string) error {
	req := refUpdateRequest{SHA: sha, Force: false}
	path := fmt.Sprintf("/repos/%s/%s/git/refs/heads/%s", c.owner, c.repo, branch)
	return c.do(ctx, http.MethodPatch, path, req, nil)
}

func (c *RESTClient) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("gitsync: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("gitsync: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gitsync: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message != "" {
			return fmt.Errorf("gitsync: api error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("gitsync: api error (%d)", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gitsync: decode response: %w", err)
	}
	return nil
}

// AuthenticatedRemoteURL injects a bearer token into a remote URL per §6:
// "the token is injected into remote URLs as https://<token>@host/<owner>/<repo>.git".
func AuthenticatedRemoteURL(scheme, host, owner, repo, token string) string {
	if token == "" {
		return fmt.Sprintf("%s://%s/%s/%s.git", scheme, host, owner, repo)
	}
	return fmt.Sprintf("%s://%s@%s/%s/%s.git", scheme, token, host, owner, repo)
}
