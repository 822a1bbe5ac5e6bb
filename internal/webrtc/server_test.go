package webrtc

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
)

func TestHandleOfferRejectsGarbage(t *testing.T) {
	s := NewServer(Options{MaxClients: 1})
	if _, err := s.HandleOffer([]byte("not json")); err == nil {
		t.Fatalf("garbage offer accepted")
	}
}

func TestHandleOfferEnforcesClientLimit(t *testing.T) {
	s := NewServer(Options{MaxClients: 1})
	s.clients["existing"] = &Client{id: "existing"}

	_, err := s.HandleOffer([]byte(`{"type":"offer","sdp":"v=0"}`))
	if !errors.Is(err, ErrTooManyClients) {
		t.Fatalf("err = %v, want ErrTooManyClients", err)
	}
}

// TestDataChannelDelivery connects an in-process pion peer over loopback.
func TestDataChannelDelivery(t *testing.T) {
	s := NewServer(Options{MaxClients: 2, IncludeLoopback: true})
	defer s.Close()

	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	peer, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	defer peer.Close()

	dc, err := peer.CreateDataChannel(ChannelLabel, nil)
	if err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}
	opened := make(chan struct{})
	got := make(chan string, 4)
	dc.OnOpen(func() { close(opened) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { got <- string(msg.Data) })

	offer, err := peer.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(peer)
	if err := peer.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	<-gathered

	offerJSON, _ := json.Marshal(peer.LocalDescription())
	answerJSON, err := s.HandleOffer(offerJSON)
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(answerJSON, &answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type = %v", answer.Type)
	}
	if s.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", s.ClientCount())
	}
	if err := peer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}

	select {
	case <-opened:
	case <-time.After(10 * time.Second):
		t.Skip("data channel did not open; no usable network interface for ICE")
	}

	deadline := time.After(10 * time.Second)
	for {
		s.Broadcast([]byte(`{"type":"counts"}`))
		select {
		case msg := <-got:
			if msg != `{"type":"counts"}` {
				t.Fatalf("message = %q", msg)
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no message received over the data channel")
		}
	}
}
