package ros

import (
	"context"

	"github.com/pkg/errors"
	"github.com/team-rocos/ros1node/rosxmlrpc"
)

// masterClient is the concrete MasterAPI/ParamAPI implementation, talking
// to the master/parameter server over rosxmlrpc. Every call follows the
// ROS (code, statusMessage, value) convention; a non-1 code is translated
// into an error here so the rest of the package never sees it, matching
// the collapsing rule documented on MasterAPI.
type masterClient struct {
	client *rosxmlrpc.Client
}

// NewMasterClient returns a MasterAPI+ParamAPI implementation bound to
// masterURI (typically ROS_MASTER_URI).
func NewMasterClient(masterURI string) *masterClient {
	return &masterClient{client: rosxmlrpc.NewClient(masterURI)}
}

func (m *masterClient) call(method string, args ...interface{}) (interface{}, error) {
	code, msg, val, err := m.client.Call(context.Background(), method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "rosmaster: %s", method)
	}
	if code != 1 {
		return nil, errors.Errorf("rosmaster: %s failed: %s", method, msg)
	}
	return val, nil
}

func toStringSlice(v interface{}) ([]string, error) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, errors.Errorf("rosmaster: expected array, got %T", v)
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		s, ok := e.(string)
		if !ok {
			return nil, errors.Errorf("rosmaster: expected string element, got %T", e)
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *masterClient) RegisterPublisher(callerID, topic, dataType, callerAPI string) ([]string, error) {
	v, err := m.call("registerPublisher", callerID, topic, dataType, callerAPI)
	if err != nil {
		return nil, err
	}
	return toStringSlice(v)
}

func (m *masterClient) UnregisterPublisher(callerID, topic, callerAPI string) error {
	_, err := m.call("unregisterPublisher", callerID, topic, callerAPI)
	return err
}

func (m *masterClient) RegisterSubscriber(callerID, topic, dataType, callerAPI string) ([]string, error) {
	v, err := m.call("registerSubscriber", callerID, topic, dataType, callerAPI)
	if err != nil {
		return nil, err
	}
	return toStringSlice(v)
}

func (m *masterClient) UnregisterSubscriber(callerID, topic, callerAPI string) error {
	_, err := m.call("unregisterSubscriber", callerID, topic, callerAPI)
	return err
}

func (m *masterClient) GetPublishedTopics(callerID, subgraph string) ([][2]string, error) {
	v, err := m.call("getPublishedTopics", callerID, subgraph)
	if err != nil {
		return nil, err
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, errors.Errorf("rosmaster: getPublishedTopics: expected array, got %T", v)
	}
	out := make([][2]string, 0, len(raw))
	for _, e := range raw {
		pair, ok := e.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, errors.Errorf("rosmaster: getPublishedTopics: expected [topic,type] pair, got %v", e)
		}
		topic, _ := pair[0].(string)
		typ, _ := pair[1].(string)
		out = append(out, [2]string{topic, typ})
	}
	return out, nil
}

func (m *masterClient) GetSystemState(callerID string) (interface{}, error) {
	return m.call("getSystemState", callerID)
}

func (m *masterClient) SetParam(callerID, key string, value interface{}) error {
	_, err := m.call("setParam", callerID, key, value)
	return err
}

func (m *masterClient) GetParam(callerID, key string) (interface{}, error) {
	return m.call("getParam", callerID, key)
}

func (m *masterClient) HasParam(callerID, key string) (bool, error) {
	v, err := m.call("hasParam", callerID, key)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func (m *masterClient) DeleteParam(callerID, key string) error {
	_, err := m.call("deleteParam", callerID, key)
	return err
}

func (m *masterClient) SearchParam(callerID, key string) (string, error) {
	v, err := m.call("searchParam", callerID, key)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (m *masterClient) GetParamNames(callerID string) ([]string, error) {
	v, err := m.call("getParamNames", callerID)
	if err != nil {
		return nil, err
	}
	return toStringSlice(v)
}

func (m *masterClient) SubscribeParam(callerID, callerAPI, key string) (interface{}, error) {
	return m.call("subscribeParam", callerID, callerAPI, key)
}

func (m *masterClient) UnsubscribeParam(callerID, callerAPI, key string) error {
	_, err := m.call("unsubscribeParam", callerID, callerAPI, key)
	return err
}

func (m *masterClient) SubscribeParams(callerID, callerAPI string, keys []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		v, err := m.SubscribeParam(callerID, callerAPI, k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (m *masterClient) UnsubscribeParams(callerID, callerAPI string, keys []string) error {
	var firstErr error
	for _, k := range keys {
		if err := m.UnsubscribeParam(callerID, callerAPI, k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
