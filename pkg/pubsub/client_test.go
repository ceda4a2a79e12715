package pubsub

import "testing"

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{"shop", "orders", "projects/shop/topics/orders"},
		{"shop", " orders ", "projects/shop/topics/orders"},
		{"shop", "projects/other/topics/orders", "projects/other/topics/orders"},
		{"", "orders", ""},
		{"shop", "", ""},
	}
	for _, tc := range cases {
		if got := TopicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("TopicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.OrderedPublisher("orders") != nil {
		t.Fatalf("expected nil publisher")
	}
	if c.OrdersTopic() != "" {
		t.Fatalf("expected empty topic")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
