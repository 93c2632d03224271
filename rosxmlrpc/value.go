package rosxmlrpc

import (
	"encoding/xml"
	"strconv"

	"github.com/pkg/errors"
)

// value is the XML representation of a single XML-RPC <value> element,
// covering only the subtypes ROS actually sends: int, boolean, double,
// string (including the bare-text shorthand), array and struct.
type value struct {
	XMLName xml.Name `xml:"value"`
	Int     *string  `xml:"int"`
	I4      *string  `xml:"i4"`
	Boolean *string  `xml:"boolean"`
	Double  *string  `xml:"double"`
	String  *string  `xml:"string"`
	Array   *array   `xml:"array"`
	Struct  *xstruct `xml:"struct"`
	Text    string   `xml:",chardata"`
}

type array struct {
	Data []value `xml:"data>value"`
}

type xstruct struct {
	Members []member `xml:"member"`
}

type member struct {
	Name  string `xml:"name"`
	Value value  `xml:"value"`
}

// encodeValue converts a Go value into its XML-RPC <value> wire form. The
// accepted Go types mirror what callRosAPI-style call sites in this corpus
// pass: bool, the integer kinds, float64, string, []interface{}, and
// map[string]interface{} (for struct-shaped parameters such as subscribeParam
// responses).
func encodeValue(v interface{}) (value, error) {
	switch t := v.(type) {
	case nil:
		s := ""
		return value{String: &s}, nil
	case bool:
		s := "0"
		if t {
			s = "1"
		}
		return value{Boolean: &s}, nil
	case int:
		s := strconv.Itoa(t)
		return value{Int: &s}, nil
	case int32:
		s := strconv.FormatInt(int64(t), 10)
		return value{Int: &s}, nil
	case int64:
		s := strconv.FormatInt(t, 10)
		return value{Int: &s}, nil
	case float64:
		s := strconv.FormatFloat(t, 'g', -1, 64)
		return value{Double: &s}, nil
	case string:
		s := t
		return value{String: &s}, nil
	case []string:
		arr := make([]value, 0, len(t))
		for _, e := range t {
			arr = append(arr, value{String: strPtr(e)})
		}
		return value{Array: &array{Data: arr}}, nil
	case [][2]string:
		arr := make([]value, 0, len(t))
		for _, e := range t {
			pair, err := encodeValue([]interface{}{e[0], e[1]})
			if err != nil {
				return value{}, err
			}
			arr = append(arr, pair)
		}
		return value{Array: &array{Data: arr}}, nil
	case []interface{}:
		arr := make([]value, 0, len(t))
		for _, e := range t {
			ev, err := encodeValue(e)
			if err != nil {
				return value{}, err
			}
			arr = append(arr, ev)
		}
		return value{Array: &array{Data: arr}}, nil
	case map[string]interface{}:
		members := make([]member, 0, len(t))
		for k, e := range t {
			ev, err := encodeValue(e)
			if err != nil {
				return value{}, err
			}
			members = append(members, member{Name: k, Value: ev})
		}
		return value{Struct: &xstruct{Members: members}}, nil
	default:
		return value{}, errors.Errorf("rosxmlrpc: cannot encode value of type %T", v)
	}
}

func strPtr(s string) *string { return &s }

// decode converts a parsed <value> back into a plain Go value: bool,
// int64, float64, string, []interface{}, or map[string]interface{}.
func (v value) decode() (interface{}, error) {
	switch {
	case v.Boolean != nil:
		return *v.Boolean == "1" || *v.Boolean == "true", nil
	case v.Int != nil:
		n, err := strconv.ParseInt(*v.Int, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "rosxmlrpc: decode int")
		}
		return n, nil
	case v.I4 != nil:
		n, err := strconv.ParseInt(*v.I4, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "rosxmlrpc: decode i4")
		}
		return n, nil
	case v.Double != nil:
		f, err := strconv.ParseFloat(*v.Double, 64)
		if err != nil {
			return nil, errors.Wrap(err, "rosxmlrpc: decode double")
		}
		return f, nil
	case v.String != nil:
		return *v.String, nil
	case v.Array != nil:
		out := make([]interface{}, 0, len(v.Array.Data))
		for _, e := range v.Array.Data {
			d, err := e.decode()
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	case v.Struct != nil:
		out := make(map[string]interface{}, len(v.Struct.Members))
		for _, m := range v.Struct.Members {
			d, err := m.Value.decode()
			if err != nil {
				return nil, err
			}
			out[m.Name] = d
		}
		return out, nil
	default:
		// Bare chardata with no typed child is the XML-RPC string shorthand.
		return v.Text, nil
	}
}
