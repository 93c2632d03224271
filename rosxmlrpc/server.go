package rosxmlrpc

import (
	"context"
	"encoding/xml"
	"io"
	"net"
	"net/http"

	"github.com/pkg/errors"
)

// MethodFunc is one follower/master XML-RPC method. It receives the
// decoded argument list exactly as the caller sent it (the first element
// is always the ROS callerId by convention, but this package does not
// special-case it) and returns the ROS (code, statusMessage, value) triple
// directly -- Handler only wraps that triple into the XML-RPC envelope. ctx
// carries the accepted connection's local address; see LocalAddrFromContext.
type MethodFunc func(ctx context.Context, args []interface{}) (code int64, statusMessage string, val interface{})

type localAddrKey struct{}

// ConnContext is installed as an http.Server's ConnContext hook so every
// request's context carries the local address of the socket that accepted
// it. requestTopic uses this to echo back the route the caller actually
// reached us on, per spec §4.G.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, localAddrKey{}, c.LocalAddr().String())
}

// LocalAddrFromContext returns the local address stashed by ConnContext, if
// any. It returns false for contexts not produced by an http.Server wired
// with ConnContext (e.g. a method invoked directly from a test).
func LocalAddrFromContext(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(localAddrKey{}).(string)
	return addr, ok
}

// Handler is an http.Handler dispatching XML-RPC methodCalls to a fixed
// table of MethodFuncs. It backs the follower RPC surface (component G):
// one Handler per Node, served on the node's follower HTTP listener, which
// listens on all interfaces (the advertised hostname appears only in the
// node's caller API URL).
type Handler struct {
	methods map[string]MethodFunc
}

// NewHandler returns a Handler dispatching to the given method table.
func NewHandler(methods map[string]MethodFunc) *Handler {
	return &Handler{methods: methods}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeFault(w, errors.Wrap(err, "rosxmlrpc: read request body"))
		return
	}

	var env methodCallEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		writeFault(w, errors.Wrap(err, "rosxmlrpc: unmarshal request"))
		return
	}

	method, ok := h.methods[env.MethodName]
	if !ok {
		writeFault(w, errors.Errorf("rosxmlrpc: unknown method %q", env.MethodName))
		return
	}

	args := make([]interface{}, 0, len(env.Params))
	for _, p := range env.Params {
		decoded, derr := p.decode()
		if derr != nil {
			writeFault(w, errors.Wrap(derr, "rosxmlrpc: decode request argument"))
			return
		}
		args = append(args, decoded)
	}

	code, msg, val := method(r.Context(), args)
	triple, err := encodeValue([]interface{}{code, msg, val})
	if err != nil {
		writeFault(w, errors.Wrap(err, "rosxmlrpc: encode response value"))
		return
	}

	resp := methodResponseEnvelope{Params: []value{triple}}
	out, err := xml.Marshal(resp)
	if err != nil {
		writeFault(w, errors.Wrap(err, "rosxmlrpc: marshal response"))
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write(append([]byte(xml.Header), out...))
}

func writeFault(w http.ResponseWriter, err error) {
	faultVal, encErr := encodeValue(map[string]interface{}{
		"faultCode":   int64(-1),
		"faultString": err.Error(),
	})
	w.Header().Set("Content-Type", "text/xml")
	if encErr != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out, marshalErr := xml.Marshal(struct {
		XMLName xml.Name `xml:"methodResponse"`
		Fault   struct {
			Value value `xml:"value"`
		} `xml:"fault"`
	}{Fault: struct {
		Value value `xml:"value"`
	}{Value: faultVal}})
	if marshalErr != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(append([]byte(xml.Header), out...))
}
