// Package rosxmlrpc implements the minimal XML-RPC client and server needed
// to talk to a ROS master/parameter-server and to serve a node's follower
// API. It is deliberately small: ROS only ever exchanges a handful of
// scalar and array/struct shapes over XML-RPC, never the full XML-RPC
// spec's dateTime.iso8601 or base64 payloads, so this package implements
// exactly the subset component H of the node runtime needs and nothing
// more.
package rosxmlrpc
