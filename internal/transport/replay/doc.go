// Package replay captures board events to JSON lines and plays them back.
//
// A Recorder attaches to every channel of a board and writes one object per
// event:
//
//	{"ts":"2024-05-01T10:00:00.000000001Z","session":"…","seq":0,"channel":"can1",
//	 "can_id":513,"can_data":"AQI=","is_extended_can_id":false,"is_remote_transmission":false}
//
// Byte fields are base64 encoded. A Reader is a transport.Transport that
// yields the recorded packets in order, optionally paced by their
// timestamps, and returns io.EOF at the end.
package replay
