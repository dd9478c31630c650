package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

//DefaultEndpoints 默认 overpass 服务
var DefaultEndpoints = []string{
	"https://overpass-api.de/api/interpreter",
	"https://overpass.kumi.systems/api/interpreter",
}

// remarks that mark a backend-side failure
var errorRemarks = []string{"runtime error", "runtime remark: Timeout"}

//Overpass 查询构造
type Overpass struct {
	Filter  TagsFilter
	Timeout int
}

//BBoxString overpass bbox 参数 s,w,n,e
func BBoxString(b orb.Bound) string {
	return fmt.Sprintf("%v,%v,%v,%v", b.Bottom(), b.Left(), b.Top(), b.Right())
}

//Query overpass QL 查询语句
func (o *Overpass) Query(b orb.Bound) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:json][timeout:%d][bbox:%s];(", o.Timeout, BBoxString(b))
	for _, sel := range OverpassSelectors(o.Filter) {
		sb.WriteString("nwr")
		sb.WriteString(sel)
		sb.WriteString(";")
	}
	sb.WriteString(");out body;>;out skel qt;")
	return sb.String()
}

//URL 针对某个服务的完整请求地址
func (o *Overpass) URL(endpoint string, b orb.Bound) string {
	return endpoint + "?data=" + url.QueryEscape(o.Query(b))
}

// responseKind classifies a backend reply.
type responseKind int

const (
	responseOK responseKind = iota
	// backend reported a runtime error/timeout in its remark
	responseRemarkError
	// transport failure, bad status or unusable body
	responseTransportError
)

//Response overpass 响应
type Response struct {
	Body     []byte
	Elements int64
	Remark   string
	kind     responseKind
	err      error
}

func classify(body []byte) *Response {
	r := &Response{Body: body}
	if !gjson.ValidBytes(body) {
		r.kind = responseTransportError
		r.err = errors.New("response is not valid json")
		return r
	}
	r.Remark = gjson.GetBytes(body, "remark").String()
	for _, marker := range errorRemarks {
		if strings.HasPrefix(r.Remark, marker) {
			r.kind = responseRemarkError
			r.err = errors.Errorf("backend error: %s", r.Remark)
			return r
		}
	}
	elements := gjson.GetBytes(body, "elements")
	if !elements.IsArray() {
		r.kind = responseTransportError
		r.err = errors.New("response has no elements array")
		return r
	}
	r.Elements = gjson.GetBytes(body, "elements.#").Int()
	return r
}

//Fetcher http 下载
type Fetcher struct {
	Client    *http.Client
	UserAgent string
}

//NewFetcher 创建带超时的下载器
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: "osmcache/" + version,
	}
}

//Get 下载 url，非 2xx 视为错误
func (f *Fetcher) Get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("status code %d", resp.StatusCode)
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

//Query 执行 overpass 查询并分类结果
func (f *Fetcher) Query(ctx context.Context, u string) *Response {
	body, err := f.Get(ctx, u)
	if err != nil {
		return &Response{kind: responseTransportError, err: err}
	}
	return classify(body)
}
