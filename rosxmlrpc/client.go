package rosxmlrpc

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout bounds every XML-RPC round trip a Client makes (it is the
// http.Client timeout); a deadline on the caller's context applies as well,
// whichever expires first.
const DefaultTimeout = 10 * time.Second

// Client is a stateless XML-RPC client: it keeps no per-call state, so
// concurrent Calls are safe (§5 "Shared resources"). Each Call is an
// independent HTTP POST through net/http's default transport, which may
// reuse an idle keep-alive connection rather than dial a fresh one.
type Client struct {
	url string
	hc  *http.Client
}

// NewClient returns a Client that posts XML-RPC requests to url (typically
// a master or parameter-server URI).
func NewClient(url string) *Client {
	return &Client{url: url, hc: &http.Client{Timeout: DefaultTimeout}}
}

type methodCallEnvelope struct {
	XMLName    xml.Name `xml:"methodCall"`
	MethodName string   `xml:"methodName"`
	Params     []value  `xml:"params>param>value"`
}

type methodResponseEnvelope struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  []value  `xml:"params>param>value"`
	Fault   *value   `xml:"fault>value"`
}

// Call invokes method with args and returns the ROS (code, statusMessage,
// value) triple, collapsed into a single decoded value by the caller's
// convention. Every ROS master/param/follower call replies with a single
// top-level param whose value is a 3-element array [code, msg, value];
// Call decodes that array and returns its three parts directly so callers
// never deal with the XML-RPC envelope.
func (c *Client) Call(ctx context.Context, method string, args ...interface{}) (code int64, msg string, val interface{}, err error) {
	params := make([]value, 0, len(args))
	for _, a := range args {
		ev, encErr := encodeValue(a)
		if encErr != nil {
			return 0, "", nil, errors.Wrap(encErr, "rosxmlrpc: encode argument")
		}
		params = append(params, ev)
	}

	body, err := xml.Marshal(methodCallEnvelope{MethodName: method, Params: params})
	if err != nil {
		return 0, "", nil, errors.Wrap(err, "rosxmlrpc: marshal request")
	}
	body = append([]byte(xml.Header), body...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, "", nil, errors.Wrap(err, "rosxmlrpc: build request")
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, "", nil, errors.Wrap(err, "rosxmlrpc: http post")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", nil, errors.Wrap(err, "rosxmlrpc: read response body")
	}

	var env methodResponseEnvelope
	if err := xml.Unmarshal(respBody, &env); err != nil {
		return 0, "", nil, errors.Wrap(err, "rosxmlrpc: unmarshal response")
	}
	if env.Fault != nil {
		decoded, _ := env.Fault.decode()
		return 0, "", nil, errors.Errorf("rosxmlrpc: fault response: %v", decoded)
	}
	if len(env.Params) != 1 {
		return 0, "", nil, errors.Errorf("rosxmlrpc: expected exactly one response param, got %d", len(env.Params))
	}

	decoded, err := env.Params[0].decode()
	if err != nil {
		return 0, "", nil, errors.Wrap(err, "rosxmlrpc: decode response value")
	}
	triple, ok := decoded.([]interface{})
	if !ok || len(triple) != 3 {
		return 0, "", nil, errors.Errorf("rosxmlrpc: expected [code, message, value] triple, got %v", decoded)
	}

	codeVal, ok := triple[0].(int64)
	if !ok {
		return 0, "", nil, errors.Errorf("rosxmlrpc: response code is not an integer: %v", triple[0])
	}
	msgVal, _ := triple[1].(string)
	return codeVal, msgVal, triple[2], nil
}

// String implements fmt.Stringer for debug logging.
func (c *Client) String() string {
	return fmt.Sprintf("rosxmlrpc.Client{%s}", c.url)
}
