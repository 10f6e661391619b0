package engine

import (
	"net/url"
	"strings"

	"github.com/relaywire/httpcore/pkg/errors"
)

// followUpRequest decides, given the final response code, whether
// another request is needed and, if so, builds it. A nil Request and nil
// error means "no follow-up" — the response is final.
func (e *Engine) followUpRequest(current *Request, resp *Response, followUps int) (*Request, error) {
	switch resp.StatusCode {
	case 407:
		if resp.Route.Proxy == nil {
			return nil, errors.NewProtocol("407 received without an active proxy", nil)
		}
		return e.authenticate(e.Opts.ProxyAuthenticator, current, resp)

	case 401:
		return e.authenticate(e.Opts.Authenticator, current, resp)

	case 300, 301, 302, 303, 307, 308:
		if !e.Opts.FollowRedirects {
			return nil, nil
		}
		return e.redirect(current, resp)

	default:
		return nil, nil
	}
}

func (e *Engine) authenticate(auth Authenticator, current *Request, resp *Response) (*Request, error) {
	if auth == nil {
		return nil, nil
	}
	next, err := auth.Authenticate(resp)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// redirect resolves Location relative to the current URL, applies
// cross-scheme and method-preservation rules, and returns the follow-up
// Request.
func (e *Engine) redirect(current *Request, resp *Response) (*Request, error) {
	loc := resp.Headers.Get("Location")
	if loc == "" {
		return nil, nil
	}

	base, err := url.Parse(current.URL)
	if err != nil {
		return nil, nil
	}
	target, err := base.Parse(loc)
	if err != nil {
		return nil, nil
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, nil // unknown scheme: reject the follow-up
	}
	if base.Scheme == "https" && target.Scheme == "http" && !e.Opts.FollowSSLRedirects {
		return nil, nil
	}

	method := current.Method
	var body = current.Body
	bodyLen := current.BodyLen
	h := current.Headers.Clone()

	// 307/308 preserve the original method (and body, which the caller
	// must supply as a replayable reader if non-idempotent); every other
	// redirect code downgrades a method-changing request to GET.
	preserveMethod := resp.StatusCode == 307 || resp.StatusCode == 308
	if !preserveMethod && method != "GET" && method != "HEAD" {
		method = "GET"
		body = nil
		bodyLen = 0
		h.RemoveAll("Transfer-Encoding")
		h.RemoveAll("Content-Length")
		h.RemoveAll("Content-Type")
	}

	if !strings.EqualFold(target.Hostname(), base.Hostname()) {
		h.RemoveAll("Authorization")
	}

	return &Request{
		Method:  method,
		URL:     target.String(),
		Headers: h,
		Body:    body,
		BodyLen: bodyLen,
		Tag:     current.Tag,
	}, nil
}
