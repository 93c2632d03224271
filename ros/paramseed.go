package ros

import (
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// remapSeparator is the token ROS uses for all three kinds of command-line
// remapping argument (spec component I), matching the teacher's own
// `Remap = ":="` constant.
const remapSeparator = ":="

// nameMap is a plain key/value remapping table, mirroring the teacher's
// own NameMap type used for topic/service remappings and parameter seeds.
type nameMap map[string]string

// processArguments splits a node's non-flag CLI arguments into the four
// buckets the teacher's processArguments produces: topic/service
// remappings (`key:=value`), parameter seeds (`_key:=value`), special
// remappings (`__name`, `__ns`, `__ip`, `__hostname`, `__master`, `__log`),
// and everything else (non-ROS positional arguments), grounded directly on
// processArguments in the rosgo node.go forks in this corpus.
func processArguments(args []string) (remapping, params, specials nameMap, rest []string) {
	remapping = make(nameMap)
	params = make(nameMap)
	specials = make(nameMap)
	for _, arg := range args {
		parts := strings.SplitN(arg, remapSeparator, 2)
		if len(parts) != 2 {
			rest = append(rest, arg)
			continue
		}
		key, value := parts[0], parts[1]
		switch {
		case strings.HasPrefix(key, "__"):
			specials[key] = value
		case strings.HasPrefix(key, "_"):
			params[key[1:]] = value
		default:
			remapping[key] = value
		}
	}
	return remapping, params, specials, rest
}

// inferParamValue type-infers a CLI-seeded parameter value the same way
// the teacher's dynamic_message.go coerces untyped JSON-ish input: wrap the
// raw token as the sole element of a JSON array and let jsonparser report
// its native type, falling back to the raw string when it does not parse
// as JSON (e.g. a bare identifier like a topic name).
func inferParamValue(raw string) interface{} {
	wrapped := []byte("[" + raw + "]")

	var result interface{}
	var found bool
	_, err := jsonparser.ArrayEach(wrapped, func(value []byte, dataType jsonparser.ValueType, offset int, err error) {
		if err != nil || found {
			return
		}
		found = true
		switch dataType {
		case jsonparser.Boolean:
			b, berr := jsonparser.ParseBoolean(value)
			if berr == nil {
				result = b
				return
			}
		case jsonparser.Number:
			if i, ierr := strconv.ParseInt(string(value), 10, 64); ierr == nil {
				result = i
				return
			}
			if f, ferr := jsonparser.ParseFloat(value); ferr == nil {
				result = f
				return
			}
		case jsonparser.String:
			s, serr := jsonparser.ParseString(value)
			if serr == nil {
				result = s
				return
			}
		}
		result = raw
	})
	if err != nil || !found {
		return raw
	}
	return result
}
