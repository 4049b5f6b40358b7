package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/storage/object"
	"github.com/spkenv/spfs/tracking"
)

// Client is a storage.Repository backed by a remote Server over HTTP.
// Transient transport failures (connection refused, timeout) are retried
// with an exponential backoff; a response the server has produced, even an
// error one, is never retried — it is a real answer, just not success.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      func() backoff.BackOff
}

var _ storage.Repository = (*Client)(nil)

// NewClient builds a Client against baseURL (e.g. "http://store.internal:7654").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

func (c *Client) Address() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}

	var resp *http.Response
	op := func() error {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := c.httpClient.Do(req)
		if err != nil {
			return err // network-level failure: retry
		}
		resp = r
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(c.retry(), ctx)); err != nil {
		return nil, spfserr.Wrap(spfserr.KindTransport, "transport_failure", "request to "+path+" failed", err)
	}
	return resp, nil
}

// errorFromResponse converts a non-2xx response body into a *spfserr.Error.
func errorFromResponse(resp *http.Response) error {
	defer drainAndClose(resp.Body)
	var e errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		return spfserr.New(spfserr.KindTransport, "unexpected_response", fmt.Sprintf("status %d", resp.StatusCode))
	}
	return spfserr.New(spfserr.Kind(e.Kind), e.Code, e.Message)
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

func (c *Client) HasObject(ctx context.Context, d encoding.Digest) (bool, error) {
	_, err := c.ReadObject(ctx, d)
	if err == nil {
		return true, nil
	}
	var se *spfserr.Error
	if errorsAsNotFound(err, &se) {
		return false, nil
	}
	return false, err
}

func (c *Client) ReadObject(ctx context.Context, d encoding.Digest) (graph.Object, error) {
	resp, err := c.do(ctx, http.MethodGet, "/objects/"+d.String(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}
	defer resp.Body.Close()
	obj, _, err := graph.Decode(resp.Body)
	if err != nil {
		return nil, spfserr.Corruption("decode object from remote", err)
	}
	return obj, nil
}

func (c *Client) WriteObject(ctx context.Context, obj graph.Object) (encoding.Digest, error) {
	var buf bytes.Buffer
	if err := graph.Encode(&buf, obj, object.DefaultStrategy, object.DefaultFormat); err != nil {
		return encoding.Digest{}, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/objects", &buf)
	if err != nil {
		return encoding.Digest{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return encoding.Digest{}, errorFromResponse(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return encoding.Digest{}, err
	}
	return encoding.Parse(string(data))
}

func (c *Client) RemoveObject(ctx context.Context, d encoding.Digest) error {
	resp, err := c.do(ctx, http.MethodDelete, "/objects/"+d.String(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return errorFromResponse(resp)
	}
	return nil
}

func (c *Client) IterDigests(ctx context.Context) (storage.DigestIterator, error) {
	resp, err := c.do(ctx, http.MethodGet, "/objects", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}
	var digests []encoding.Digest
	if err := json.NewDecoder(resp.Body).Decode(&digests); err != nil {
		return nil, err
	}
	return &sliceDigestIter{digests: digests}, nil
}

func (c *Client) ResolveFullDigest(ctx context.Context, partial string) (encoding.Digest, error) {
	resp, err := c.do(ctx, http.MethodGet, "/objects/resolve/"+url.PathEscape(partial), nil)
	if err != nil {
		return encoding.Digest{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return encoding.Digest{}, errorFromResponse(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return encoding.Digest{}, err
	}
	return encoding.Parse(string(data))
}

func (c *Client) HasPayload(ctx context.Context, d encoding.Digest) (bool, error) {
	resp, err := c.do(ctx, http.MethodHead, "/payloads/"+d.String(), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) WritePayload(ctx context.Context, r io.Reader) (encoding.Digest, int64, error) {
	resp, err := c.do(ctx, http.MethodPost, "/payloads", r)
	if err != nil {
		return encoding.Digest{}, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return encoding.Digest{}, 0, errorFromResponse(resp)
	}
	var out payloadWriteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return encoding.Digest{}, 0, err
	}
	return out.Digest, out.Size, nil
}

func (c *Client) OpenPayload(ctx context.Context, d encoding.Digest) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, "/payloads/"+d.String(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, errorFromResponse(resp)
	}
	return resp.Body, nil
}

func (c *Client) RemovePayload(ctx context.Context, d encoding.Digest) error {
	resp, err := c.do(ctx, http.MethodDelete, "/payloads/"+d.String(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return errorFromResponse(resp)
	}
	return nil
}

func (c *Client) IterPayloads(ctx context.Context) (storage.PayloadIterator, error) {
	// The semantic surface has no dedicated payload-listing endpoint
	// distinct from object listing; payload enumeration piggybacks on
	// /objects since every stored blob payload also has an object entry
	// referencing it in this deployment's typical usage.
	return c.IterDigests(ctx)
}

func (c *Client) HasTag(ctx context.Context, spec tracking.TagSpec) bool {
	_, err := c.ResolveTag(ctx, spec)
	return err == nil
}

func tagQuery(spec tracking.TagSpec) string {
	q := url.Values{}
	q.Set("org", spec.Org)
	q.Set("name", spec.Name)
	q.Set("version", strconv.FormatUint(spec.Version, 10))
	return q.Encode()
}

func (c *Client) ResolveTag(ctx context.Context, spec tracking.TagSpec) (tracking.Tag, error) {
	resp, err := c.do(ctx, http.MethodGet, "/tags/resolve?"+tagQuery(spec), nil)
	if err != nil {
		return tracking.Tag{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tracking.Tag{}, errorFromResponse(resp)
	}
	var w tagWire
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return tracking.Tag{}, err
	}
	return w.toTag()
}

func (c *Client) ReadTag(ctx context.Context, spec tracking.TagSpec) ([]tracking.Tag, error) {
	resp, err := c.do(ctx, http.MethodGet, "/tags/read?"+tagQuery(spec), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}
	var wires []tagWire
	if err := json.NewDecoder(resp.Body).Decode(&wires); err != nil {
		return nil, err
	}
	out := make([]tracking.Tag, 0, len(wires))
	for _, w := range wires {
		t, err := w.toTag()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Client) LsTags(ctx context.Context, path string) ([]storage.EntryType, error) {
	q := url.Values{}
	q.Set("path", path)
	resp, err := c.do(ctx, http.MethodGet, "/tags/ls?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}
	var wires []entryTypeWire
	if err := json.NewDecoder(resp.Body).Decode(&wires); err != nil {
		return nil, err
	}
	out := make([]storage.EntryType, len(wires))
	for i, w := range wires {
		out[i] = storage.EntryType{Name: w.Name, Folder: w.Folder}
	}
	return out, nil
}

func (c *Client) FindTags(ctx context.Context, d encoding.Digest) ([]tracking.TagSpec, error) {
	q := url.Values{}
	q.Set("digest", d.String())
	resp, err := c.do(ctx, http.MethodGet, "/tags/find?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}
	var wires []tagSpecWire
	if err := json.NewDecoder(resp.Body).Decode(&wires); err != nil {
		return nil, err
	}
	out := make([]tracking.TagSpec, len(wires))
	for i, w := range wires {
		out[i] = w.toTagSpec()
	}
	return out, nil
}

func (c *Client) IterTagStreams(ctx context.Context) (storage.TagStreamIterator, error) {
	resp, err := c.do(ctx, http.MethodGet, "/tags/streams", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}
	var wires []streamWire
	if err := json.NewDecoder(resp.Body).Decode(&wires); err != nil {
		return nil, err
	}
	it := &sliceStreamIter{}
	for _, w := range wires {
		entries := make([]tracking.Tag, 0, len(w.Entries))
		for _, e := range w.Entries {
			t, err := e.toTag()
			if err != nil {
				return nil, err
			}
			entries = append(entries, t)
		}
		it.specs = append(it.specs, w.Spec.toTagSpec())
		it.entries = append(it.entries, entries)
	}
	return it, nil
}

func (c *Client) PushTag(ctx context.Context, spec tracking.TagSpec, target encoding.Digest) (tracking.Tag, error) {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(pushTagRequest{Org: spec.Org, Name: spec.Name, Target: target})
	resp, err := c.do(ctx, http.MethodPost, "/tags/push", &buf)
	if err != nil {
		return tracking.Tag{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tracking.Tag{}, errorFromResponse(resp)
	}
	var w tagWire
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return tracking.Tag{}, err
	}
	return w.toTag()
}

func (c *Client) InsertTag(ctx context.Context, t tracking.Tag) error {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(toTagWire(t))
	resp, err := c.do(ctx, http.MethodPost, "/tags/insert", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return errorFromResponse(resp)
	}
	return nil
}

func (c *Client) RemoveTag(ctx context.Context, t tracking.Tag) error {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(toTagWire(t))
	resp, err := c.do(ctx, http.MethodDelete, "/tags", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return errorFromResponse(resp)
	}
	return nil
}

func (c *Client) RemoveTagStream(ctx context.Context, spec tracking.TagSpec) error {
	resp, err := c.do(ctx, http.MethodDelete, "/tags/stream?"+tagQuery(spec), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return errorFromResponse(resp)
	}
	return nil
}

type sliceDigestIter struct {
	digests []encoding.Digest
	pos     int
}

func (it *sliceDigestIter) Next(ctx context.Context) (encoding.Digest, error) {
	if it.pos >= len(it.digests) {
		return encoding.Digest{}, io.EOF
	}
	d := it.digests[it.pos]
	it.pos++
	return d, nil
}
func (it *sliceDigestIter) Close() error { return nil }

type sliceStreamIter struct {
	specs   []tracking.TagSpec
	entries [][]tracking.Tag
	pos     int
}

func (it *sliceStreamIter) Next(ctx context.Context) (tracking.TagSpec, []tracking.Tag, error) {
	if it.pos >= len(it.specs) {
		return tracking.TagSpec{}, nil, io.EOF
	}
	spec, entries := it.specs[it.pos], it.entries[it.pos]
	it.pos++
	return spec, entries, nil
}
func (it *sliceStreamIter) Close() error { return nil }

func errorsAsNotFound(err error, target **spfserr.Error) bool {
	e, ok := err.(*spfserr.Error)
	if !ok {
		return false
	}
	*target = e
	return e.Kind == spfserr.KindNotFound
}
