// Package remote implements the Remote Metadata Client (spec.md C4):
// queries against the remote package index, with a TTL-cached
// convenience wrapper.
//
// Grounded on the internal/updater fetch/parse split and
// internal/httputil.ResponseChecker for response validation; the cache is
// internal/cache's TTL map (adapted from a weak-pointer liveness cache,
// see DESIGN.md).
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/linglong/linglong"
	"github.com/linglong/linglong/internal/cache"
	"github.com/linglong/linglong/internal/httputil"
	"github.com/linglong/linglong/pkg/catalog"
	"github.com/linglong/linglong/pkg/ref"
)

// Descriptor is the wire shape of one entry in a query response, mapped
// onto the catalog's Package Descriptor (spec.md §3.2).
type Descriptor = catalog.Descriptor

// envelope is the remote index's fixed response shape (spec.md §4.4): a
// "code" and a "data" array. Callers never see this type; the client
// enforces the shape.
type envelope struct {
	Code int              `json:"code"`
	Msg  string           `json:"msg"`
	Data []wireDescriptor `json:"data"`
}

type wireDescriptor struct {
	Channel     string `json:"channel"`
	ID          string `json:"appId"`
	Version     string `json:"version"`
	Arch        string `json:"arch"`
	Module      string `json:"module"`
	Kind        string `json:"kind"`
	Runtime     string `json:"runtime"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Size        int64  `json:"size"`
	RepoName    string `json:"repoName"`
	User        string `json:"user"`
	UABURL      string `json:"uabUrl"`
}

func (w wireDescriptor) toDescriptor() (Descriptor, error) {
	r, err := ref.Parse(fmt.Sprintf("%s:%s/%s/%s/%s", orDefault(w.Channel, ref.DefaultChannel), w.ID, w.Version, w.Arch, orDefault(w.Module, string(ref.ModuleRuntime))))
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{
		Reference:   r,
		Kind:        catalog.Kind(orDefault(w.Kind, string(catalog.KindApp))),
		Name:        w.Name,
		Description: w.Description,
		Size:        w.Size,
		RepoName:    w.RepoName,
		UABURL:      w.UABURL,
	}
	if w.Runtime != "" {
		rr, err := ref.Parse(w.Runtime)
		if err == nil {
			d.Runtime = rr
		}
	}
	return d, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// NotFoundError reports that the remote index returned a non-zero code
// or no matching descriptor.
type NotFoundError struct {
	ID, Version, Arch string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found in repo: %s/%s/%s", e.ID, e.Version, e.Arch)
}

func (e *NotFoundError) Is(target error) bool { return target == linglong.ErrNotFound }

// Index is the Remote Metadata Client contract (spec.md §4.4).
type Index interface {
	// Query issues a search to the remote index.
	Query(ctx context.Context, id, version, arch string) ([]Descriptor, error)
	// QueryCached is like Query but consults a local TTL cache keyed by
	// id; force bypasses the cache.
	QueryCached(ctx context.Context, id, version, arch string, force bool) ([]Descriptor, error)
}

var _ Index = (*HTTPIndex)(nil)

// HTTPIndex is the concrete Index backed by an HTTP GET against a
// configured appDbUrl (spec.md §6.3 config.json, §4.9).
type HTTPIndex struct {
	BaseURL string
	Client  *http.Client
	Limiter *rate.Limiter

	cache *cache.TTL[string, []Descriptor]
}

// NewHTTPIndex constructs an HTTPIndex. A nil client uses
// [http.DefaultClient]; a nil limiter uses a 5-request/second limiter.
func NewHTTPIndex(baseURL string, client *http.Client, limiter *rate.Limiter) *HTTPIndex {
	if client == nil {
		client = http.DefaultClient
	}
	if limiter == nil {
		limiter = rate.NewLimiter(5, 5)
	}
	h := &HTTPIndex{BaseURL: baseURL, Client: client, Limiter: limiter}
	h.cache = cache.New(cache.DefaultTTL, func(ctx context.Context, id string) (*[]Descriptor, error) {
		d, err := h.Query(ctx, id, "", "")
		if err != nil {
			return nil, err
		}
		return &d, nil
	})
	return h
}

// Query implements [Index].
func (h *HTTPIndex) Query(ctx context.Context, id, version, arch string) ([]Descriptor, error) {
	if err := h.Limiter.Wait(ctx); err != nil {
		return nil, &linglong.Error{Op: "remote.Query", Kind: linglong.ErrTransient, Inner: err}
	}

	u, err := url.Parse(h.BaseURL)
	if err != nil {
		return nil, &linglong.Error{Op: "remote.Query", Kind: linglong.ErrInvalid, Inner: err}
	}
	q := u.Query()
	q.Set("id", id)
	if version != "" {
		q.Set("version", version)
	}
	if arch != "" {
		q.Set("arch", arch)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &linglong.Error{Op: "remote.Query", Kind: linglong.ErrInternal, Inner: err}
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, &linglong.Error{Op: "remote.Query", Kind: linglong.ErrTransient, Inner: err}
	}
	defer resp.Body.Close()
	if err := httputil.CheckResponse(resp, http.StatusOK); err != nil {
		return nil, &linglong.Error{Op: "remote.Query", Kind: linglong.ErrTransient, Inner: err}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &linglong.Error{Op: "remote.Query", Kind: linglong.ErrInternal, Message: "decoding response envelope", Inner: err}
	}
	if env.Code != 0 {
		return nil, &NotFoundError{ID: id, Version: version, Arch: arch}
	}

	out := make([]Descriptor, 0, len(env.Data))
	for _, w := range env.Data {
		d, err := w.toDescriptor()
		if err != nil {
			continue // malformed remote entry; skip rather than fail the whole query.
		}
		out = append(out, d)
	}
	return out, nil
}

// QueryCached implements [Index].
func (h *HTTPIndex) QueryCached(ctx context.Context, id, version, arch string, force bool) ([]Descriptor, error) {
	if force || version != "" || arch != "" {
		return h.Query(ctx, id, version, arch)
	}
	v, err := h.cache.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return *v, nil
}

// Invalidate bypasses the cache for id on the next QueryCached call.
func (h *HTTPIndex) Invalidate(id string) { h.cache.Invalidate(id) }
