// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

package realtime

import (
	"testing"

	"github.com/fluxmesh/fluxmesh/internal/models"
	"github.com/fluxmesh/fluxmesh/internal/rooms"
)

func TestRouterDispatch(t *testing.T) {
	const id = "5c4a6a61dd8b9f1f30a105b8"

	router := NewRouter()
	var got []string
	router.Handle(rooms.NamespaceInput, rooms.KindAdd, rooms.ActionPublish, func(c *Conn, desc rooms.Descriptor, req *Request) {
		got = append(got, "publish")
	})
	router.Handle(rooms.NamespaceInput, rooms.KindStream, rooms.ActionSubscribe, func(c *Conn, desc rooms.Descriptor, req *Request) {
		got = append(got, "subscribe:"+desc.DeviceID)
	})

	c := newConn(NewHub(), router, nil, nil, testRealtimeConfig())

	router.Dispatch(c, &Request{ID: 1, Room: rooms.InputAdd, Action: rooms.ActionPublish})
	router.Dispatch(c, &Request{ID: 2, Room: rooms.InputStream(id), Action: rooms.ActionSubscribe})

	if len(got) != 2 || got[0] != "publish" || got[1] != "subscribe:"+id {
		t.Fatalf("dispatched = %v", got)
	}
}

func TestRouterNoRoute(t *testing.T) {
	const id = "5c4a6a61dd8b9f1f30a105b8"

	tests := []struct {
		name string
		req  Request
	}{
		{name: "unparseable room", req: Request{ID: 7, Room: "bogus", Action: rooms.ActionPublish}},
		{name: "no matching action", req: Request{ID: 7, Room: rooms.InputStream(id), Action: "explode"}},
		{name: "publish on stream room", req: Request{ID: 7, Room: rooms.InputStream(id), Action: rooms.ActionPublish}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter()
			router.Handle(rooms.NamespaceInput, rooms.KindStream, rooms.ActionSubscribe, func(c *Conn, desc rooms.Descriptor, req *Request) {
				t.Error("handler should not run")
			})
			c := newConn(NewHub(), router, nil, nil, testRealtimeConfig())

			router.Dispatch(c, &tt.req)

			frames := drain(t, c)
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1", len(frames))
			}
			resp := frames[0]
			if resp.Status != models.StatusFail {
				t.Errorf("status = %q, want fail", resp.Status)
			}
			if resp.Meta.Message != MsgNoRoute {
				t.Errorf("message = %q", resp.Meta.Message)
			}
			if resp.ID != tt.req.ID {
				t.Errorf("ack id = %d, want %d", resp.ID, tt.req.ID)
			}
		})
	}
}

func TestRouterNoRouteFireAndForget(t *testing.T) {
	router := NewRouter()
	c := newConn(NewHub(), router, nil, nil, testRealtimeConfig())

	// No acknowledgement ID: the miss is silent.
	router.Dispatch(c, &Request{Room: "bogus", Action: rooms.ActionPublish})

	if frames := drain(t, c); len(frames) != 0 {
		t.Fatalf("got %d frames, want 0", len(frames))
	}
}
