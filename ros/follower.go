package ros

import (
	"context"
	"net"
	"strconv"

	"github.com/team-rocos/ros1node/rosxmlrpc"
)

// Follower RPC status codes, per spec §4.G ("code=1 is success").
const (
	apiStatusError   int64 = -1
	apiStatusFailure int64 = 0
	apiStatusSuccess int64 = 1
)

// followerMethods builds the nine-method XML-RPC table the follower server
// dispatches (spec §4.G), grounded on the xmlrpcHandler method table in the
// rosgo node.go forks, with getBusStats/getBusInfo actually populated
// (rather than left "Not implemented" as both forks do) and requestTopic's
// local-HTTP-socket-address-plus-TCP-listener-port echoing behavior.
func (n *Node) followerMethods() map[string]rosxmlrpc.MethodFunc {
	return map[string]rosxmlrpc.MethodFunc{
		"getBusStats":      n.rpcGetBusStats,
		"getBusInfo":       n.rpcGetBusInfo,
		"shutdown":         n.rpcShutdown,
		"getPid":           n.rpcGetPid,
		"getSubscriptions": n.rpcGetSubscriptions,
		"getPublications":  n.rpcGetPublications,
		"paramUpdate":      n.rpcParamUpdate,
		"publisherUpdate":  n.rpcPublisherUpdate,
		"requestTopic":     n.rpcRequestTopic,
	}
}

func argString(args []interface{}, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func (n *Node) rpcGetBusStats(ctx context.Context, args []interface{}) (int64, string, interface{}) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	pubStats := make([]interface{}, 0, len(n.publications))
	for topic, p := range n.publications {
		pubStats = append(pubStats, []interface{}{topic, p.NumSubscribers()})
	}
	subStats := make([]interface{}, 0, len(n.subscriptions))
	for topic, s := range n.subscriptions {
		subStats = append(subStats, []interface{}{topic, s.NumPublishers()})
	}
	return apiStatusSuccess, "Success", []interface{}{pubStats, subStats, []interface{}{}}
}

func (n *Node) rpcGetBusInfo(ctx context.Context, args []interface{}) (int64, string, interface{}) {
	return apiStatusSuccess, "Success", ""
}

func (n *Node) rpcShutdown(ctx context.Context, args []interface{}) (int64, string, interface{}) {
	go n.Shutdown()
	return apiStatusSuccess, "Success", 0
}

func (n *Node) rpcGetPid(ctx context.Context, args []interface{}) (int64, string, interface{}) {
	return apiStatusSuccess, "Success", int64(n.pid)
}

func (n *Node) rpcGetSubscriptions(ctx context.Context, args []interface{}) (int64, string, interface{}) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]interface{}, 0, len(n.subscriptions))
	for topic, s := range n.subscriptions {
		out = append(out, []interface{}{topic, s.DataType()})
	}
	return apiStatusSuccess, "Success", out
}

func (n *Node) rpcGetPublications(ctx context.Context, args []interface{}) (int64, string, interface{}) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]interface{}, 0, len(n.publications))
	for topic, p := range n.publications {
		out = append(out, []interface{}{topic, p.DataType()})
	}
	return apiStatusSuccess, "Success", out
}

func (n *Node) rpcParamUpdate(ctx context.Context, args []interface{}) (int64, string, interface{}) {
	key, ok := argString(args, 1)
	if !ok || len(args) < 3 {
		return apiStatusError, "invalid arguments", 0
	}
	n.paramUpdate(key, asSubscribedValue(args[2]))
	return apiStatusSuccess, "Success", 0
}

func (n *Node) rpcPublisherUpdate(ctx context.Context, args []interface{}) (int64, string, interface{}) {
	topic, ok := argString(args, 1)
	if !ok || len(args) < 3 {
		return apiStatusError, "invalid arguments", 0
	}
	rawList, ok := args[2].([]interface{})
	if !ok {
		return apiStatusError, "invalid publisher list", 0
	}
	urls := make([]string, 0, len(rawList))
	for _, e := range rawList {
		if s, ok := e.(string); ok {
			urls = append(urls, s)
		}
	}
	if !n.publisherUpdate(topic, urls) {
		return apiStatusFailure, "No such topic", 0
	}
	return apiStatusSuccess, "Success", 0
}

// rpcRequestTopic implements spec §4.G's requestTopic policy: reject if
// the topic is not published, if no TCPROS entry is offered, or if no TCP
// listener is bound; otherwise echo the HTTP request's own local address
// paired with the TCP listener's port.
func (n *Node) rpcRequestTopic(ctx context.Context, args []interface{}) (int64, string, interface{}) {
	topic, ok := argString(args, 1)
	if !ok || len(args) < 3 {
		return apiStatusError, "invalid arguments", []interface{}{}
	}

	n.mu.RLock()
	_, published := n.publications[topic]
	n.mu.RUnlock()
	if !published {
		return apiStatusFailure, "No such topic", []interface{}{}
	}

	protocols, ok := args[2].([]interface{})
	if !ok {
		return apiStatusFailure, "malformed protocol list", []interface{}{}
	}
	hasTCPROS := false
	for _, p := range protocols {
		entry, ok := p.([]interface{})
		if !ok || len(entry) == 0 {
			continue
		}
		if name, ok := entry[0].(string); ok && name == "TCPROS" {
			hasTCPROS = true
			break
		}
	}
	if !hasTCPROS {
		return apiStatusFailure, ErrUnsupportedProtocol.Error(), []interface{}{}
	}

	n.tcpMu.Lock()
	ln := n.tcpListener
	n.tcpMu.Unlock()
	if ln == nil {
		return apiStatusFailure, ErrCannotReceiveInbound.Error(), []interface{}{}
	}

	host := n.advertisedHost
	if localAddr, ok := rosxmlrpc.LocalAddrFromContext(ctx); ok {
		if h, _, err := net.SplitHostPort(localAddr); err == nil {
			host = h
		}
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	portNum, _ := strconv.ParseInt(port, 10, 32)
	return apiStatusSuccess, "Success", []interface{}{"TCPROS", host, portNum}
}
