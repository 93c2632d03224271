package ros

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/team-rocos/ros1node/rosxmlrpc"
)

// Node is the top-level entity of this package: it owns every Publication
// and Subscription a process holds, the follower RPC server, and the
// master/parameter-server client. Grounded on the defaultNode type in the
// rosgo node.go forks in this corpus (shvydky-rosgo and PavanSoundara-rosgo,
// both descendants of the edwinhayes-rosgo teacher lineage), restructured
// around Publication/Subscription/PublisherConnection/SubscriberConnection
// instead of defaultPublisher/defaultSubscriber.
type Node struct {
	name           string
	namespace      string
	qualifiedName  string
	masterURI      string
	callerAPI      string
	advertisedHost string
	pid            int

	httpListener net.Listener
	httpServer   *http.Server

	tcpMu       sync.Mutex
	tcpListener net.Listener

	master MasterAPI
	param  ParamAPI
	dialer SocketFactory
	parser MessageDefinitionParser

	loggerRoot *loggerRoot
	logger     Logger

	mu            sync.RWMutex
	publications  map[string]*Publication
	subscriptions map[string]*Subscription
	nextConnID    uint64
	nextSubConnID uint64

	params         *paramCache
	paramUpdateEvt paramUpdateListeners

	ctx     context.Context
	cancel  context.CancelFunc
	mu2     sync.Mutex
	stopped bool

	nonROSArgs []string
}

// NodeOption customizes a Node before it finishes constructing, mirroring
// the ServiceClientOption/ServiceServerOption pattern the teacher lineage
// uses elsewhere in node.go.
type NodeOption func(*Node)

// WithMasterAPI overrides the MasterAPI implementation; tests use this to
// substitute a fake master. It does not set the ParamAPI (see WithParamAPI).
func WithMasterAPI(m MasterAPI) NodeOption {
	return func(n *Node) { n.master = m }
}

// WithParamAPI overrides the ParamAPI implementation. Without it, the
// ParamAPI is the masterClient NewNode installs as MasterAPI, or, when
// WithMasterAPI supplied the MasterAPI, a separate masterClient bound to
// the master URI.
func WithParamAPI(p ParamAPI) NodeOption {
	return func(n *Node) { n.param = p }
}

// WithSocketFactory overrides the outbound TCP dialer.
func WithSocketFactory(f SocketFactory) NodeOption {
	return func(n *Node) { n.dialer = f }
}

// WithMessageParser installs the external message-definition parser used to
// resolve a MessageType from a handshake's type/message_definition fields.
func WithMessageParser(p MessageDefinitionParser) NodeOption {
	return func(n *Node) { n.parser = p }
}

// WithLogger overrides the node's root logger.
func WithLogger(r *loggerRoot) NodeOption {
	return func(n *Node) { n.loggerRoot = r }
}

// NewNode constructs and starts a Node: it resolves its qualified name,
// splits args via processArguments, seeds parameters, binds the follower
// XML-RPC server, and returns ready to Advertise/Subscribe. Mirrors the
// teacher lineage's newDefaultNode.
func NewNode(name string, args []string, opts ...NodeOption) (*Node, error) {
	n := &Node{
		publications:  make(map[string]*Publication),
		subscriptions: make(map[string]*Subscription),
		params:        newParamCache(),
		pid:           os.Getpid(),
	}
	for _, opt := range opts {
		opt(n)
	}

	namespace, nodeName := qualifyNodeName(name)
	_, params, specials, rest := processArguments(args)

	n.name = nodeName
	if v, ok := specials["__name"]; ok {
		n.name = v
	}
	n.namespace = namespace
	if ns := os.Getenv("ROS_NAMESPACE"); ns != "" {
		n.namespace = ns
	}
	if v, ok := specials["__ns"]; ok {
		n.namespace = v
	}
	n.nonROSArgs = rest

	if n.namespace == "/" {
		n.qualifiedName = n.namespace + n.name
	} else {
		n.qualifiedName = n.namespace + "/" + n.name
	}

	hostname := determineHost()
	if v, ok := specials["__hostname"]; ok {
		hostname = v
	} else if v, ok := specials["__ip"]; ok {
		hostname = v
	}

	n.masterURI = os.Getenv("ROS_MASTER_URI")
	if v, ok := specials["__master"]; ok {
		n.masterURI = v
	}
	if n.masterURI == "" {
		return nil, errors.New("ros: no master URI (set ROS_MASTER_URI or pass __master:=...)")
	}

	if n.loggerRoot == nil {
		n.loggerRoot = NewDefaultLogger()
	}
	n.logger = n.loggerRoot.Module("node")

	if n.master == nil {
		mc := NewMasterClient(n.masterURI)
		n.master = mc
		if n.param == nil {
			n.param = mc
		}
	}
	if n.param == nil {
		n.param = NewMasterClient(n.masterURI)
	}
	if n.dialer == nil {
		n.dialer = NewNetSocketFactory()
	}

	n.ctx, n.cancel = context.WithCancel(context.Background())

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		n.cancel()
		return nil, errors.Wrap(err, "ros: bind follower http listener")
	}
	n.httpListener = listener
	_, port, _ := net.SplitHostPort(listener.Addr().String())
	n.advertisedHost = hostname
	n.callerAPI = fmt.Sprintf("http://%s:%s", bracketHost(hostname), port)

	n.httpServer = &http.Server{Handler: rosxmlrpc.NewHandler(n.followerMethods()), ConnContext: rosxmlrpc.ConnContext}
	go n.httpServer.Serve(listener)
	n.logger.Debugf("follower API listening at %s", n.callerAPI)

	for k, v := range params {
		inferred := inferParamValue(v)
		if err := n.param.SetParam(n.qualifiedName, k, inferred); err != nil {
			n.logger.WithFields(logrus.Fields{"key": k, "error": err}).Warn("failed to seed parameter from command line")
			continue
		}
		n.params.set(k, inferred)
	}

	return n, nil
}

// qualifyNodeName splits a possibly-namespaced node name ("/ns/name" or
// bare "name") into its namespace and leaf name, defaulting namespace to
// "/". Grounded on the call site `qualifyNodeName(name)` in the rosgo
// node.go forks; the function body itself is not in the retrieval pack.
func qualifyNodeName(name string) (namespace, leaf string) {
	if !strings.HasPrefix(name, "/") {
		return "/", name
	}
	idx := strings.LastIndex(name, "/")
	if idx <= 0 {
		return "/", name[1:]
	}
	return name[:idx], name[idx+1:]
}

func (n *Node) masterParamAPI() ParamAPI {
	return n.param
}

// Name returns the node's fully-qualified name ("/ns/name").
func (n *Node) Name() string { return n.qualifiedName }

// CallerAPI returns this node's follower XML-RPC URL.
func (n *Node) CallerAPI() string { return n.callerAPI }

// Logger returns the node's root logger.
func (n *Node) Logger() Logger { return n.logger }

// ListenTCPROS binds the TCP listener used to accept inbound TCPROS
// connections from subscribers, if none is bound yet; later calls are
// no-ops. Advertise calls it, so an explicit call is optional.
func (n *Node) ListenTCPROS() error {
	n.tcpMu.Lock()
	defer n.tcpMu.Unlock()
	if n.tcpListener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return errors.Wrap(err, "ros: bind tcpros listener")
	}
	n.tcpListener = ln
	go n.acceptTCPROS(ln)
	return nil
}

func (n *Node) acceptTCPROS(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		id := atomic.AddUint64(&n.nextSubConnID, 1)
		sc := NewSubscriberConnection(id, conn, n, n.loggerRoot.Module("subconn"))
		// Responded -> Serving emits the subscribe event upward (spec
		// §4.E); the Node registers this client into the publication's
		// fan-out set in response to it, rather than SubscriberConnection
		// reaching into Publication directly.
		sc.OnSubscribe(func(c *SubscriberConnection) {
			if p := c.Publication(); p != nil {
				p.attach(c.ID(), c)
			}
		})
		go sc.Serve()
	}
}

// lookupPublication implements publicationLookup for SubscriberConnection.
func (n *Node) lookupPublication(topic string) (*Publication, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.publications[topic]
	return p, ok
}

// Advertise registers topic as published by this node, creating a
// Publication and registering it with the master. Returns the existing
// Publication if topic is already advertised (spec §4.F "Advertise /
// Unadvertise").
func (n *Node) Advertise(topic, dataType string, latching bool, definitionText, md5sum string, msgType MessageType) (*Publication, error) {
	if !n.OK() {
		return nil, ErrNodeShutdown
	}
	n.mu.Lock()
	if p, ok := n.publications[topic]; ok {
		n.mu.Unlock()
		return p, nil
	}
	n.mu.Unlock()

	if err := n.ListenTCPROS(); err != nil {
		return nil, err
	}

	pub := NewPublication(topic, dataType, latching, definitionText, md5sum, msgType, n.loggerRoot.Module("pub:"+topic))

	if _, err := n.master.RegisterPublisher(n.qualifiedName, topic, dataType, n.callerAPI); err != nil {
		return nil, errors.Wrapf(err, "ros: registerPublisher(%s)", topic)
	}

	n.mu.Lock()
	n.publications[topic] = pub
	n.mu.Unlock()
	return pub, nil
}

// Unadvertise closes topic's Publication, removes it, and fires-and-forgets
// unregisterPublisher (spec §4.F: "failures only log").
func (n *Node) Unadvertise(topic string) {
	n.mu.Lock()
	pub, ok := n.publications[topic]
	delete(n.publications, topic)
	n.mu.Unlock()
	if !ok {
		return
	}
	pub.Close()
	if err := n.master.UnregisterPublisher(n.qualifiedName, topic, n.callerAPI); err != nil {
		n.logger.WithFields(logrus.Fields{"topic": topic, "error": err}).Warn("unregisterPublisher failed")
	}
}

// IsAdvertising reports whether topic currently has a live Publication.
func (n *Node) IsAdvertising(topic string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.publications[topic]
	return ok
}

// Subscribe registers this node's interest in topic, asynchronously
// retrying registerSubscriber forever until it succeeds or the subscription
// is torn down (spec §4.F "Subscribe / Unsubscribe"). Idempotent.
func (n *Node) Subscribe(topic, dataType, md5sum string, tcpNoDelay bool) (*Subscription, error) {
	if !n.OK() {
		return nil, ErrNodeShutdown
	}
	n.mu.Lock()
	if s, ok := n.subscriptions[topic]; ok {
		n.mu.Unlock()
		return s, nil
	}
	sub := NewSubscription(n.ctx, topic, dataType, md5sum, tcpNoDelay, n.loggerRoot.Module("sub:"+topic))
	n.subscriptions[topic] = sub
	n.mu.Unlock()

	go n.registerSubscriberLoop(sub)
	return sub, nil
}

func (n *Node) registerSubscriberLoop(sub *Subscription) {
	var publisherURLs []string
	err := RetryForever(sub.Context(), func() error {
		urls, err := n.master.RegisterSubscriber(n.qualifiedName, sub.Topic(), sub.DataType(), n.callerAPI)
		if err != nil {
			n.logger.WithFields(logrus.Fields{"topic": sub.Topic(), "error": err}).Warn("registerSubscriber failed, retrying")
			return err
		}
		publisherURLs = urls
		return nil
	})
	if err != nil {
		// Context was cancelled (unsubscribe/shutdown) before success.
		return
	}
	for _, url := range publisherURLs {
		go n.subscribeToPublisher(sub, url)
	}
}

// Unsubscribe closes topic's Subscription and fires-and-forgets
// unregisterSubscriber.
func (n *Node) Unsubscribe(topic string) {
	n.mu.Lock()
	sub, ok := n.subscriptions[topic]
	delete(n.subscriptions, topic)
	n.mu.Unlock()
	if !ok {
		return
	}
	sub.Close()
	if err := n.master.UnregisterSubscriber(n.qualifiedName, topic, n.callerAPI); err != nil {
		n.logger.WithFields(logrus.Fields{"topic": topic, "error": err}).Warn("unregisterSubscriber failed")
	}
}

// IsSubscribedTo reports whether topic currently has a live Subscription.
func (n *Node) IsSubscribedTo(topic string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.subscriptions[topic]
	return ok
}

// subscribeToPublisher implements spec §4.F's `_subscribe_to_publisher`: it
// asks pubURL's follower for a TCPROS endpoint and, if one is offered,
// constructs and starts a PublisherConnection for it. Any failure is logged
// and abandoned -- the master may push a fresh publisherUpdate later.
func (n *Node) subscribeToPublisher(sub *Subscription, pubURL string) {
	if !sub.Alive() {
		return
	}
	client := rosxmlrpc.NewClient(pubURL)
	code, msg, val, err := client.Call(sub.Context(), "requestTopic", n.qualifiedName, sub.Topic(), []interface{}{[]interface{}{"TCPROS"}})
	if err != nil {
		n.logger.WithFields(logrus.Fields{"publisher": pubURL, "topic": sub.Topic(), "error": err}).Warn("requestTopic failed")
		return
	}
	if code != 1 {
		n.logger.WithFields(logrus.Fields{"publisher": pubURL, "topic": sub.Topic(), "message": msg}).Warn("requestTopic rejected")
		return
	}
	triple, ok := val.([]interface{})
	if !ok || len(triple) != 3 {
		n.logger.WithFields(logrus.Fields{"publisher": pubURL, "value": val}).Warn("requestTopic: malformed protocol response")
		return
	}
	proto, _ := triple[0].(string)
	host, _ := triple[1].(string)
	var port int64
	switch p := triple[2].(type) {
	case int64:
		port = p
	case float64:
		port = int64(p)
	default:
		n.logger.Warn("requestTopic: malformed port in response")
		return
	}
	if !strings.EqualFold(proto, "TCPROS") {
		n.logger.WithFields(logrus.Fields{"publisher": pubURL}).Warn("requestTopic: publisher did not offer TCPROS")
		return
	}

	if !sub.Alive() {
		return
	}

	remoteAddr := net.JoinHostPort(host, strconv.FormatInt(port, 10))
	tcpNoDelayVal := "0"
	if sub.tcpNoDelay {
		tcpNoDelayVal = "1"
	}
	reqHeader := []header{
		{"topic", sub.Topic()},
		{"md5sum", sub.MD5Sum()},
		{"callerid", n.qualifiedName},
		{"type", sub.DataType()},
		{"tcp_nodelay", tcpNoDelayVal},
	}
	connID := atomic.AddUint64(&n.nextConnID, 1)
	conn := NewPublisherConnection(connID, sub.Topic(), remoteAddr, reqHeader, n.dialer, n.parser, n.loggerRoot.Module(fmt.Sprintf("pubconn:%s#%d", sub.Topic(), connID)))
	if !sub.Attach(pubURL, conn) {
		n.logger.WithFields(logrus.Fields{"topic": sub.Topic(), "publisher": pubURL, "error": ErrSubscriptionClosed}).Warn("dropping late publisher connection")
		conn.Close()
	}
}

// publisherUpdate is invoked by the follower RPC (spec §4.F): it diffs
// newPublishers against the subscription's current set, closing
// connections to URLs that disappeared and launching
// subscribeToPublisher for URLs that appeared.
func (n *Node) publisherUpdate(topic string, newPublishers []string) bool {
	n.mu.RLock()
	sub, ok := n.subscriptions[topic]
	n.mu.RUnlock()
	if !ok {
		return false
	}
	added, removed := sub.ApplyPublisherURLs(newPublishers)
	for _, url := range removed {
		sub.Detach(url)
	}
	for _, url := range added {
		go n.subscribeToPublisher(sub, url)
	}
	return true
}

// paramUpdate is invoked by the follower RPC (spec §4.F): it normalizes
// key, updates the local parameter cache, and emits a paramUpdate event
// with the previous and new values.
func (n *Node) paramUpdate(key string, value interface{}) {
	prev := n.params.set(key, value)
	n.paramUpdateEvt.emit(normalizeParamKey(key), prev, value)
}

// OnParamUpdate registers an observer for local parameter-cache changes.
func (n *Node) OnParamUpdate(fn func(key string, prev, next interface{})) {
	n.paramUpdateEvt.add(fn)
}

// SetParameter writes key=value to the master and locally invokes the same
// paramUpdate path, since the master does not notify the originator of its
// own writes (spec §4.F "Parameter client").
func (n *Node) SetParameter(key string, value interface{}) error {
	if err := n.masterParamAPI().SetParam(n.qualifiedName, key, value); err != nil {
		return errors.Wrapf(err, "ros: setParam(%s)", key)
	}
	n.paramUpdate(key, value)
	return nil
}

// SubscribeParam subscribes to future updates of key and returns its
// current value. An empty-object response from the master is recorded as
// ParamUnset (spec §9 open question).
func (n *Node) SubscribeParam(key string) (interface{}, error) {
	raw, err := n.masterParamAPI().SubscribeParam(n.qualifiedName, n.callerAPI, key)
	if err != nil {
		return nil, errors.Wrapf(err, "ros: subscribeParam(%s)", key)
	}
	val := asSubscribedValue(raw)
	n.params.set(key, val)
	return val, nil
}

// SubscribeAllParams fetches the master's full parameter key set, drops
// local entries the server no longer knows, and subscribes to each new one
// with its own SubscribeParam call, surfacing per-key failures as logged warnings while continuing
// with the rest (spec §4.F).
func (n *Node) SubscribeAllParams() error {
	names, err := n.masterParamAPI().GetParamNames(n.qualifiedName)
	if err != nil {
		return errors.Wrap(err, "ros: getParamNames")
	}
	known := make(map[string]bool, len(names))
	for _, k := range names {
		known[normalizeParamKey(k)] = true
	}
	for _, k := range n.params.keys() {
		if !known[k] {
			n.params.delete(k)
		}
	}
	for _, k := range names {
		if _, ok := n.params.get(k); ok {
			continue
		}
		if _, err := n.SubscribeParam(k); err != nil {
			n.logger.WithFields(logrus.Fields{"key": k, "error": err}).Warn("subscribeParam failed during subscribeAllParams")
		}
	}
	return nil
}

// UnsubscribeAllParams is the dual of SubscribeAllParams.
func (n *Node) UnsubscribeAllParams() error {
	keys := n.params.keys()
	if len(keys) == 0 {
		return nil
	}
	if err := n.masterParamAPI().UnsubscribeParams(n.qualifiedName, n.callerAPI, keys); err != nil {
		n.logger.WithFields(logrus.Fields{"error": err}).Warn("unsubscribeParams failed")
	}
	return nil
}

// Shutdown marks the node stopped, unsubscribes all parameters, closes
// every publication and subscription, and closes the follower server.
// Every exit path closes unconditionally (spec §4.F "Shutdown").
func (n *Node) Shutdown() {
	n.mu2.Lock()
	if n.stopped {
		n.mu2.Unlock()
		return
	}
	n.stopped = true
	n.mu2.Unlock()

	n.cancel()

	_ = n.UnsubscribeAllParams()

	n.mu.Lock()
	pubs := n.publications
	n.publications = make(map[string]*Publication)
	subs := n.subscriptions
	n.subscriptions = make(map[string]*Subscription)
	n.mu.Unlock()

	for _, p := range pubs {
		p.Close()
	}
	for _, s := range subs {
		s.Close()
	}

	n.tcpMu.Lock()
	if n.tcpListener != nil {
		n.tcpListener.Close()
	}
	n.tcpMu.Unlock()

	n.httpServer.Close()
	n.httpListener.Close()
}

// OK reports whether the node has not yet been shut down.
func (n *Node) OK() bool {
	n.mu2.Lock()
	defer n.mu2.Unlock()
	return !n.stopped
}
