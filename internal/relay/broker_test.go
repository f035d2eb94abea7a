package relay

import (
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu    sync.Mutex
	kinds []ActivityKind
	acts  []Activity
}

func (o *recordingObserver) Observe(a Activity) {
	o.mu.Lock()
	o.kinds = append(o.kinds, a.Kind)
	o.acts = append(o.acts, a)
	o.mu.Unlock()
}

// matching returns the observed activities of kind for deviceID.
func (o *recordingObserver) matching(kind ActivityKind, deviceID string) []Activity {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Activity
	for _, a := range o.acts {
		if a.Kind == kind && a.DeviceID == deviceID {
			out = append(out, a)
		}
	}
	return out
}

func (o *recordingObserver) has(kind ActivityKind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Contains(o.kinds, kind)
}

func newTestBroker(t *testing.T) (*Broker, *recordingObserver) {
	t.Helper()
	obs := &recordingObserver{}
	b := NewBroker(BrokerOptions{Observers: []Observer{obs}, Clock: fixedClock()})
	return b, obs
}

func connect(b *Broker, id string) *fakeConn {
	c := newFakeConn(id)
	b.Connect(c)
	return c
}

func loginDevice(t *testing.T, b *Broker, c *fakeConn, deviceID string) {
	t.Helper()
	send(t, b, c.ID(), EventDeviceLogin, map[string]string{"deviceId": deviceID})
	var ack DeviceLoginResult
	c.last(t, EventDeviceLoginResult, &ack)
	if !ack.Success {
		t.Fatalf("device login %s failed: %s", deviceID, ack.Message)
	}
}

func loginWeb(t *testing.T, b *Broker, c *fakeConn) {
	t.Helper()
	send(t, b, c.ID(), EventWebLogin, map[string]string{"username": "admin", "password": "pw"})
	var ack WebLoginResult
	c.last(t, EventWebLoginResult, &ack)
	if !ack.Success {
		t.Fatalf("web login failed: %s", ack.Message)
	}
}

func TestBroker_ConnectGreets(t *testing.T) {
	b, obs := newTestBroker(t)
	c := connect(b, "c1")

	var msg SystemMessage
	c.last(t, EventSystemMessage, &msg)
	if msg.Type != SystemMessageConnect || msg.Message != "connected: c1" {
		t.Errorf("greeting = %+v", msg)
	}
	if msg.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d", msg.Timestamp)
	}
	if !obs.has(ActivityConnectionOpened) {
		t.Error("connection_opened not observed")
	}
}

func TestBroker_DeviceLoginBroadcastsToWebClients(t *testing.T) {
	b, _ := newTestBroker(t)
	web1 := connect(b, "w1")
	web2 := connect(b, "w2")
	anon := connect(b, "a1")
	loginWeb(t, b, web1)
	loginWeb(t, b, web2)
	web1.reset()
	web2.reset()

	dev := connect(b, "d1")
	loginDevice(t, b, dev, "sensor-1")

	var ack DeviceLoginResult
	dev.last(t, EventDeviceLoginResult, &ack)
	if ack.DeviceID != "sensor-1" || ack.Message != msgDeviceLoginOK {
		t.Errorf("ack = %+v", ack)
	}

	for _, w := range []*fakeConn{web1, web2} {
		lists := w.events(EventDeviceList)
		if len(lists) != 1 {
			t.Fatalf("%s got %d device lists, want 1", w.ID(), len(lists))
		}
		var list DeviceList
		w.last(t, EventDeviceList, &list)
		if list.Count != 1 || !slices.Equal(list.Devices, []string{"sensor-1"}) {
			t.Errorf("%s list = %+v", w.ID(), list)
		}
	}
	if n := len(anon.events(EventDeviceList)); n != 0 {
		t.Errorf("anonymous conn got %d device lists", n)
	}
	if n := len(dev.events(EventDeviceList)); n != 0 {
		t.Errorf("device conn got %d device lists", n)
	}
}

func TestBroker_DeviceLoginMissingID(t *testing.T) {
	b, obs := newTestBroker(t)
	web := connect(b, "w1")
	loginWeb(t, b, web)
	web.reset()
	dev := connect(b, "d1")

	send(t, b, "d1", EventDeviceLogin, map[string]string{})

	var ack DeviceLoginResult
	dev.last(t, EventDeviceLoginResult, &ack)
	if ack.Success || ack.DeviceID != "" {
		t.Errorf("ack = %+v", ack)
	}
	if b.Registry().Role("d1") != RoleAnonymous {
		t.Error("failed login changed role")
	}
	if len(web.events(EventDeviceList)) != 0 {
		t.Error("failed login broadcast a device list")
	}
	if !obs.has(ActivityDeviceRejected) {
		t.Error("rejection not observed")
	}
}

func TestBroker_WebLoginPushesListToCallerOnly(t *testing.T) {
	b, _ := newTestBroker(t)
	other := connect(b, "w0")
	loginWeb(t, b, other)
	other.reset()

	dev := connect(b, "d1")
	loginDevice(t, b, dev, "pump")
	other.reset()

	web := connect(b, "w1")
	loginWeb(t, b, web)

	var ack WebLoginResult
	web.last(t, EventWebLoginResult, &ack)
	if ack.User == nil || ack.User.Username != "admin" {
		t.Errorf("ack user = %+v", ack.User)
	}
	var list DeviceList
	web.last(t, EventDeviceList, &list)
	if !slices.Equal(list.Devices, []string{"pump"}) {
		t.Errorf("list = %+v", list)
	}
	if n := len(other.events(EventDeviceList)); n != 0 {
		t.Errorf("other web client got %d lists on someone else's login", n)
	}
}

func TestBroker_WebLoginInvalidKeepsConnectionUsable(t *testing.T) {
	b, _ := newTestBroker(t)
	web := connect(b, "w1")

	send(t, b, "w1", EventWebLogin, map[string]string{"username": "admin"})
	var ack WebLoginResult
	web.last(t, EventWebLoginResult, &ack)
	if ack.Success || ack.User != nil {
		t.Errorf("ack = %+v", ack)
	}
	if len(web.events(EventDeviceList)) != 0 {
		t.Error("failed login pushed a device list")
	}

	loginWeb(t, b, web)
}

func TestBroker_CrossClassLoginRejected(t *testing.T) {
	b, _ := newTestBroker(t)
	dev := connect(b, "d1")
	loginDevice(t, b, dev, "x")

	send(t, b, "d1", EventWebLogin, map[string]string{"username": "u", "password": "p"})
	var ack WebLoginResult
	dev.last(t, EventWebLoginResult, &ack)
	if ack.Success || ack.Message != msgAlreadyDevice {
		t.Errorf("ack = %+v", ack)
	}

	web := connect(b, "w1")
	loginWeb(t, b, web)
	send(t, b, "w1", EventDeviceLogin, map[string]string{"deviceId": "y"})
	var dack DeviceLoginResult
	web.last(t, EventDeviceLoginResult, &dack)
	if dack.Success || dack.Message != msgAlreadyWeb {
		t.Errorf("device ack = %+v", dack)
	}
	if b.Registry().IsDeviceOnline("y") {
		t.Error("web conn became device y")
	}
}

func TestBroker_DuplicateDeviceEvictsOldConnection(t *testing.T) {
	b, obs := newTestBroker(t)
	web := connect(b, "w1")
	loginWeb(t, b, web)

	old := connect(b, "d-old")
	loginDevice(t, b, old, "cam")
	web.reset()

	fresh := connect(b, "d-new")
	loginDevice(t, b, fresh, "cam")

	var notice SystemMessage
	old.last(t, EventSystemMessage, &notice)
	if notice.Type != SystemMessageError || notice.Message != msgEvictionNotice {
		t.Errorf("eviction notice = %+v", notice)
	}
	if n := len(old.events(EventSystemMessage)); n != 2 {
		t.Errorf("evicted conn got %d system messages, want greeting and one notice", n)
	}
	if !old.isClosed() {
		t.Error("evicted connection not closed")
	}
	wantCalls := []string{EventSystemMessage, EventDeviceLoginResult, EventSystemMessage, "close"}
	if got := old.calls(); !slices.Equal(got, wantCalls) {
		t.Errorf("evicted conn calls = %v, want %v", got, wantCalls)
	}
	if !obs.has(ActivityDeviceEvicted) {
		t.Error("eviction not observed")
	}

	// Commands from the evicted conn are ignored.
	old.reset()
	send(t, b, "d-old", EventPing, nil)
	if len(old.frames) != 0 {
		t.Errorf("evicted conn got replies: %+v", old.frames)
	}

	// Its transport then reports the close; the device stays online.
	web.reset()
	b.Disconnect("d-old")
	if got, _ := b.Registry().ResolveDevice("cam"); got != "d-new" {
		t.Errorf("cam resolves to %q after evicted disconnect", got)
	}
	if n := len(web.events(EventDeviceList)); n != 0 {
		t.Errorf("evicted disconnect broadcast %d lists", n)
	}
}

func TestBroker_DeviceRelogin(t *testing.T) {
	b, obs := newTestBroker(t)
	web := connect(b, "w1")
	loginWeb(t, b, web)
	dev := connect(b, "d1")
	loginDevice(t, b, dev, "cam")
	web.reset()

	// Same ID: acknowledged, nothing announced.
	loginDevice(t, b, dev, "cam")
	if n := len(web.events(EventDeviceList)); n != 0 {
		t.Errorf("renewal broadcast %d lists", n)
	}
	if n := len(obs.matching(ActivityDeviceOnline, "cam")); n != 1 {
		t.Errorf("device_online for cam observed %d times", n)
	}

	// New ID: the old one is released and everyone hears about it.
	loginDevice(t, b, dev, "lamp")
	lists := web.events(EventDeviceList)
	if len(lists) != 1 {
		t.Fatalf("rebind broadcast %d lists, want 1", len(lists))
	}
	var list DeviceList
	if err := json.Unmarshal(lists[0].Data, &list); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(list.Devices, []string{"lamp"}) || list.Count != 1 {
		t.Errorf("device list = %+v", list)
	}

	released := obs.matching(ActivityDeviceOffline, "cam")
	if len(released) != 1 || released[0].Reason != "rebound" || released[0].ConnID != "d1" {
		t.Errorf("release of cam observed as %+v", released)
	}
	if b.Registry().IsDeviceOnline("cam") {
		t.Error("cam still online after rebind")
	}
}

func TestBroker_PresenceOrderFollowsRegistry(t *testing.T) {
	entered := make(chan struct{})
	var mu sync.Mutex
	var presence []Activity
	obs := ObserverFunc(func(a Activity) {
		if a.Kind != ActivityDeviceOnline && a.Kind != ActivityDeviceOffline {
			return
		}
		if a.Kind == ActivityDeviceOffline && a.ConnID == "d1" {
			close(entered)
			// Hold the offline back long enough for a racing login to run.
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		presence = append(presence, a)
		mu.Unlock()
	})
	b := NewBroker(BrokerOptions{Observers: []Observer{obs}, Clock: fixedClock()})

	d1 := connect(b, "d1")
	loginDevice(t, b, d1, "cam")
	d2 := connect(b, "d2")

	done := make(chan struct{})
	go func() {
		b.Disconnect("d1")
		close(done)
	}()
	<-entered
	loginDevice(t, b, d2, "cam")
	<-done

	if !b.Registry().IsDeviceOnline("cam") {
		t.Fatal("cam offline after d2 login")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(presence) != 3 {
		t.Fatalf("presence activities = %+v", presence)
	}
	last := presence[len(presence)-1]
	if last.Kind != ActivityDeviceOnline || last.ConnID != "d2" {
		t.Errorf("last presence activity = %s conn=%s, want device_online conn=d2", last.Kind, last.ConnID)
	}
}

func TestBroker_DeviceDisconnectBroadcasts(t *testing.T) {
	b, obs := newTestBroker(t)
	web := connect(b, "w1")
	loginWeb(t, b, web)
	dev := connect(b, "d1")
	loginDevice(t, b, dev, "lamp")
	web.reset()

	b.Disconnect("d1")

	var list DeviceList
	web.last(t, EventDeviceList, &list)
	if list.Count != 0 || len(list.Devices) != 0 {
		t.Errorf("list after disconnect = %+v", list)
	}
	if !obs.has(ActivityDeviceOffline) {
		t.Error("device_offline not observed")
	}

	web.reset()
	b.Disconnect("d1")
	if len(web.events(EventDeviceList)) != 0 {
		t.Error("second disconnect broadcast again")
	}
}

func TestBroker_CommandRoundTrip(t *testing.T) {
	b, obs := newTestBroker(t)
	web := connect(b, "w1")
	loginWeb(t, b, web)
	dev := connect(b, "d1")
	loginDevice(t, b, dev, "heater")

	send(t, b, "w1", EventWebDeviceCommand, map[string]any{
		"deviceId": "heater",
		"command":  "set",
		"params":   map[string]int{"temp": 21},
	})

	var ack CommandAck
	web.last(t, EventWebCommandResult, &ack)
	if !ack.Success || ack.Message != "command sent to device heater" {
		t.Errorf("ack = %+v", ack)
	}

	var cmd DeviceCommand
	dev.last(t, EventDeviceCommand, &cmd)
	if cmd.Command != "set" || cmd.From != "w1" || string(cmd.Params) != `{"temp":21}` {
		t.Errorf("device got %+v", cmd)
	}

	send(t, b, "d1", EventDeviceCommandResult, map[string]any{
		"to":      "w1",
		"command": "set",
		"success": true,
		"result":  map[string]int{"temp": 21},
	})

	var reply DeviceCommandReply
	web.last(t, EventWebDeviceCommandResult, &reply)
	if reply.DeviceID != "heater" || string(reply.Command) != `"set"` || string(reply.Success) != "true" {
		t.Errorf("reply = %+v", reply)
	}
	if string(reply.Result) != `{"temp":21}` {
		t.Errorf("reply result = %s", reply.Result)
	}
	if !obs.has(ActivityCommandSent) || !obs.has(ActivityResultForwarded) {
		t.Error("command activity not observed")
	}
}

func TestBroker_ResultWithOddFieldsForwarded(t *testing.T) {
	b, obs := newTestBroker(t)
	web := connect(b, "w1")
	loginWeb(t, b, web)
	dev := connect(b, "d1")
	loginDevice(t, b, dev, "heater")

	send(t, b, "d1", EventDeviceCommandResult, map[string]any{
		"to":      "w1",
		"command": 42,
		"success": "yes",
		"message": map[string]int{"code": 3},
	})

	var reply DeviceCommandReply
	web.last(t, EventWebDeviceCommandResult, &reply)
	if reply.DeviceID != "heater" || string(reply.Command) != "42" || string(reply.Success) != `"yes"` {
		t.Errorf("reply = %+v", reply)
	}
	if string(reply.Message) != `{"code":3}` {
		t.Errorf("reply message = %s", reply.Message)
	}
	forwarded := obs.matching(ActivityResultForwarded, "heater")
	if len(forwarded) != 1 || forwarded[0].Command != "42" {
		t.Errorf("forward observed as %+v", forwarded)
	}
}

func TestBroker_CommandRejections(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]any
		wantMsg string
	}{
		{
			name:    "missing params",
			data:    map[string]any{"deviceId": "heater", "command": "set"},
			wantMsg: "malformed command",
		},
		{
			name:    "null params",
			data:    map[string]any{"deviceId": "heater", "command": "set", "params": nil},
			wantMsg: "malformed command",
		},
		{
			name:    "missing command",
			data:    map[string]any{"deviceId": "heater", "params": map[string]any{}},
			wantMsg: "malformed command",
		},
		{
			name:    "offline device",
			data:    map[string]any{"deviceId": "ghost", "command": "set", "params": map[string]any{}},
			wantMsg: "device ghost is offline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, obs := newTestBroker(t)
			web := connect(b, "w1")
			loginWeb(t, b, web)
			dev := connect(b, "d1")
			loginDevice(t, b, dev, "heater")

			send(t, b, "w1", EventWebDeviceCommand, tt.data)

			var ack CommandAck
			web.last(t, EventWebCommandResult, &ack)
			if ack.Success || ack.Message != tt.wantMsg {
				t.Errorf("ack = %+v, want message %q", ack, tt.wantMsg)
			}
			if n := len(dev.events(EventDeviceCommand)); n != 0 {
				t.Errorf("device received %d commands", n)
			}
			if !obs.has(ActivityCommandRejected) {
				t.Error("rejection not observed")
			}
		})
	}
}

func TestBroker_DispatchSendFailureIsOffline(t *testing.T) {
	b, _ := newTestBroker(t)
	dev := connect(b, "d1")
	loginDevice(t, b, dev, "heater")
	dev.mu.Lock()
	dev.sendErr = errFakeClosed
	dev.mu.Unlock()

	res := b.Dispatch("w1", WebDeviceCommand{DeviceID: "heater", Command: "x", Params: json.RawMessage(`1`)})
	if res.Accepted || res.Reason != ErrDeviceOffline {
		t.Errorf("Dispatch() = %+v", res)
	}
}

func TestBroker_ResultToDepartedClientDropped(t *testing.T) {
	b, obs := newTestBroker(t)
	dev := connect(b, "d1")
	loginDevice(t, b, dev, "heater")

	ok := b.ForwardResult("d1", DeviceCommandResult{To: "gone", Command: json.RawMessage(`"set"`)})
	if ok {
		t.Error("ForwardResult to unknown conn reported delivery")
	}
	if b.ForwardResult("d1", DeviceCommandResult{Command: json.RawMessage(`"set"`)}) {
		t.Error("ForwardResult with empty target reported delivery")
	}
	if !obs.has(ActivityResultDropped) {
		t.Error("drop not observed")
	}
}

func TestBroker_GetDeviceListOrder(t *testing.T) {
	b, _ := newTestBroker(t)
	for _, id := range []string{"c", "a", "b"} {
		dev := connect(b, "conn-"+id)
		loginDevice(t, b, dev, id)
	}
	web := connect(b, "w1")

	send(t, b, "w1", EventWebGetDeviceList, nil)

	var list DeviceList
	web.last(t, EventDeviceList, &list)
	if !slices.Equal(list.Devices, []string{"c", "a", "b"}) || list.Count != 3 {
		t.Errorf("list = %+v", list)
	}
}

func TestBroker_PingAndUnknownEvent(t *testing.T) {
	b, _ := newTestBroker(t)
	c := connect(b, "c1")

	send(t, b, "c1", EventPing, nil)
	var pong Pong
	c.last(t, EventPong, &pong)
	if pong.Type != EventPong {
		t.Errorf("pong = %+v", pong)
	}

	send(t, b, "c1", "web:self_destruct", nil)
	var msg SystemMessage
	c.last(t, EventSystemMessage, &msg)
	if msg.Type != SystemMessageError || msg.Message != "unknown event: web:self_destruct" {
		t.Errorf("unknown event reply = %+v", msg)
	}

	c.reset()
	b.HandleRaw("c1", []byte("not json"))
	c.last(t, EventSystemMessage, &msg)
	if msg.Type != SystemMessageError {
		t.Errorf("bad frame reply = %+v", msg)
	}
}

func TestBroker_CloseClosesAll(t *testing.T) {
	b, _ := newTestBroker(t)
	conns := []*fakeConn{connect(b, "a"), connect(b, "b")}
	b.Close()
	for _, c := range conns {
		if !c.isClosed() {
			t.Errorf("%s not closed", c.ID())
		}
	}
}

func TestBroker_ConcurrentTraffic(t *testing.T) {
	b, _ := newTestBroker(t)
	web := connect(b, "w")
	loginWeb(t, b, web)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := connName(i)
			c := newFakeConn(id)
			b.Connect(c)
			b.Handle(id, Envelope{Event: EventDeviceLogin, Data: json.RawMessage(`{"deviceId":"shared"}`)})
			b.Handle("w", Envelope{Event: EventWebDeviceCommand, Data: json.RawMessage(`{"deviceId":"shared","command":"c","params":1}`)})
			b.Disconnect(id)
		}(i)
	}
	wg.Wait()

	if b.Registry().IsDeviceOnline("shared") {
		t.Error("device online after every holder disconnected")
	}
	if s := b.Stats(); s.Connections != 1 || s.WebClients != 1 || s.Devices != 0 {
		t.Errorf("Stats() = %+v", s.RegistryStats)
	}
}
