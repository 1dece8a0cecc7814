package bus

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDecodePushBody(t *testing.T) {
	payload := []byte(`{"invoice_id":"UE-1"}`)
	raw := []byte(`{
		"message": {
			"data": "` + base64.StdEncoding.EncodeToString(payload) + `",
			"messageId": "m-42",
			"publishTime": "2024-01-05T12:00:00Z",
			"attributes": {"origin": "test"},
			"deliveryAttempt": 3
		},
		"subscription": "projects/acme/subscriptions/invoice-converted"
	}`)

	body, err := DecodePushBody(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(body.Message.Data, payload) {
		t.Errorf("data = %q", body.Message.Data)
	}
	if body.Message.MessageID != "m-42" {
		t.Errorf("messageId = %q", body.Message.MessageID)
	}
	if body.Attempt() != 3 {
		t.Errorf("attempt = %d, want 3", body.Attempt())
	}
	if body.Message.Attributes["origin"] != "test" {
		t.Errorf("attributes = %v", body.Message.Attributes)
	}
}

func TestAttemptDefaultsToOne(t *testing.T) {
	raw := []byte(`{"message":{"data":"e30=","messageId":"m-1","publishTime":"2024-01-05T12:00:00Z"},"subscription":"s"}`)
	body, err := DecodePushBody(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Attempt() != 1 {
		t.Errorf("attempt = %d, want 1", body.Attempt())
	}
}

func TestDecodePushBodyPoison(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `push!`},
		{"data not base64", `{"message":{"data":"%%not-base64%%","messageId":"m-1"},"subscription":"s"}`},
		{"missing messageId", `{"message":{"data":"e30="},"subscription":"s"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodePushBody([]byte(tc.raw)); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestPushBodyRoundTrip(t *testing.T) {
	attempt := 2
	body := PushBody{
		Message: PushMessage{
			Data:            []byte(`{"invoice_id":"DD-7"}`),
			MessageID:       "m-7",
			PublishTime:     "2024-01-05T12:00:00Z",
			Attributes:      map[string]string{"k": "v"},
			DeliveryAttempt: &attempt,
		},
		Subscription: "projects/local/subscriptions/invoice-uploaded",
	}
	raw, err := json.Marshal(&body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := DecodePushBody(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(back.Message.Data, body.Message.Data) {
		t.Error("payload changed across round trip")
	}
	if back.Attempt() != 2 {
		t.Errorf("attempt = %d", back.Attempt())
	}
}
