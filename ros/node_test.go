package ros

import (
	"sync"
	"testing"
)

// fakeMaster is a hand-written MasterAPI+ParamAPI fake in the style of the
// teacher's test doubles (subscription_test.go's testMessageType/testMessage),
// used so Node tests never touch the network.
type fakeMaster struct {
	mu              sync.Mutex
	publishers      map[string][]string // topic -> registered publisher caller_apis
	subscribedTopic map[string]bool
	params          map[string]interface{}
}

func newFakeMaster() *fakeMaster {
	return &fakeMaster{
		publishers:      make(map[string][]string),
		subscribedTopic: make(map[string]bool),
		params:          make(map[string]interface{}),
	}
}

func (f *fakeMaster) RegisterPublisher(callerID, topic, dataType, callerAPI string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishers[topic] = append(f.publishers[topic], callerAPI)
	return nil, nil
}

func (f *fakeMaster) UnregisterPublisher(callerID, topic, callerAPI string) error { return nil }

func (f *fakeMaster) RegisterSubscriber(callerID, topic, dataType, callerAPI string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribedTopic[topic] = true
	return append([]string{}, f.publishers[topic]...), nil
}

func (f *fakeMaster) UnregisterSubscriber(callerID, topic, callerAPI string) error { return nil }

func (f *fakeMaster) GetPublishedTopics(callerID, subgraph string) ([][2]string, error) {
	return nil, nil
}

func (f *fakeMaster) GetSystemState(callerID string) (interface{}, error) { return nil, nil }

func (f *fakeMaster) SetParam(callerID, key string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[normalizeParamKey(key)] = value
	return nil
}

func (f *fakeMaster) GetParam(callerID, key string) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[normalizeParamKey(key)], nil
}

func (f *fakeMaster) HasParam(callerID, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.params[normalizeParamKey(key)]
	return ok, nil
}

func (f *fakeMaster) DeleteParam(callerID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.params, normalizeParamKey(key))
	return nil
}

func (f *fakeMaster) SearchParam(callerID, key string) (string, error) { return key, nil }

func (f *fakeMaster) GetParamNames(callerID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.params))
	for k := range f.params {
		names = append(names, k)
	}
	return names, nil
}

func (f *fakeMaster) SubscribeParam(callerID, callerAPI, key string) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.params[normalizeParamKey(key)]
	if !ok {
		return map[string]interface{}{}, nil
	}
	return v, nil
}

func (f *fakeMaster) UnsubscribeParam(callerID, callerAPI, key string) error { return nil }

func (f *fakeMaster) SubscribeParams(callerID, callerAPI string, keys []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		v, _ := f.SubscribeParam(callerID, callerAPI, k)
		out[k] = v
	}
	return out, nil
}

func (f *fakeMaster) UnsubscribeParams(callerID, callerAPI string, keys []string) error { return nil }

func newTestNode(t *testing.T, master *fakeMaster) *Node {
	t.Helper()
	t.Setenv("ROS_MASTER_URI", "http://localhost:11311")
	n, err := NewNode("/testnode", nil, WithMasterAPI(master), WithParamAPI(master), WithLogger(NewDiscardLogger()))
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	t.Cleanup(n.Shutdown)
	return n
}

func TestNodeAdvertiseIsIdempotent(t *testing.T) {
	n := newTestNode(t, newFakeMaster())
	p1, err := n.Advertise("/chatter", "std_msgs/String", false, "string data", "992ce8a1687cec8c8bd883ec73ca41d1", nil)
	if err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	p2, err := n.Advertise("/chatter", "std_msgs/String", false, "string data", "992ce8a1687cec8c8bd883ec73ca41d1", nil)
	if err != nil {
		t.Fatalf("Advertise (second call): %v", err)
	}
	if p1 != p2 {
		t.Fatalf("Advertise did not return the existing Publication on second call")
	}
	if !n.IsAdvertising("/chatter") {
		t.Fatalf("IsAdvertising(/chatter) = false, want true")
	}
}

func TestNodeUnadvertiseRemoves(t *testing.T) {
	n := newTestNode(t, newFakeMaster())
	if _, err := n.Advertise("/chatter", "std_msgs/String", false, "string data", "992ce8a1687cec8c8bd883ec73ca41d1", nil); err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	n.Unadvertise("/chatter")
	if n.IsAdvertising("/chatter") {
		t.Fatalf("IsAdvertising(/chatter) = true after Unadvertise")
	}
}

func TestNodeSubscribeIsIdempotent(t *testing.T) {
	n := newTestNode(t, newFakeMaster())
	s1, err := n.Subscribe("/chatter", "std_msgs/String", "992ce8a1687cec8c8bd883ec73ca41d1", false)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	s2, err := n.Subscribe("/chatter", "std_msgs/String", "992ce8a1687cec8c8bd883ec73ca41d1", false)
	if err != nil {
		t.Fatalf("Subscribe (second call): %v", err)
	}
	if s1 != s2 {
		t.Fatalf("Subscribe did not return the existing Subscription on second call")
	}
	if !n.IsSubscribedTo("/chatter") {
		t.Fatalf("IsSubscribedTo(/chatter) = false, want true")
	}
}

func TestNodeSetParameterUpdatesLocalCache(t *testing.T) {
	n := newTestNode(t, newFakeMaster())
	var gotKey string
	var gotPrev, gotNext interface{}
	n.OnParamUpdate(func(key string, prev, next interface{}) {
		gotKey, gotPrev, gotNext = key, prev, next
	})
	if err := n.SetParameter("/rate", 10); err != nil {
		t.Fatalf("SetParameter: %v", err)
	}
	if gotKey != "/rate" || gotNext != 10 {
		t.Fatalf("paramUpdate event = (%q, %v, %v), want (/rate, nil, 10)", gotKey, gotPrev, gotNext)
	}
	v, ok := n.params.get("/rate")
	if !ok || v != 10 {
		t.Fatalf("params.get(/rate) = (%v, %v), want (10, true)", v, ok)
	}
}

func TestNodeShutdownClosesEverything(t *testing.T) {
	master := newFakeMaster()
	n := newTestNode(t, master)
	if _, err := n.Advertise("/a", "std_msgs/Bool", false, "bool data", "8b94c1b53db61fb6aed406028ad6332a", nil); err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	if _, err := n.Subscribe("/b", "std_msgs/Bool", "8b94c1b53db61fb6aed406028ad6332a", false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	n.Shutdown()
	if n.OK() {
		t.Fatalf("OK() = true after Shutdown")
	}
	if n.IsAdvertising("/a") || n.IsSubscribedTo("/b") {
		t.Fatalf("Shutdown did not clear publications/subscriptions")
	}
}
