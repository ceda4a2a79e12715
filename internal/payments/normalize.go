package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
)

const topicPayment = "payment"

// Notification is the canonical form of a gateway webhook, whatever shape it
// arrived in.
type Notification struct {
	Topic     string
	PaymentID string
}

// IsPayment reports whether the notification concerns a payment.
func (n Notification) IsPayment() bool {
	return n.Topic == topicPayment
}

// NormalizeNotification extracts the topic and payment id from a webhook.
// The gateway has sent the same information under different keys over time,
// in the JSON body or in the query string. Body values win over query values.
//
// Topic:      body type, body topic, body action (prefix before "."), query type, query topic.
// Payment id: body data.id, body id (legacy payloads without data), body
// resource, query data.id, query id.
func NormalizeNotification(body []byte, query url.Values) Notification {
	fields := decodeBody(body)

	var n Notification
	for _, candidate := range []string{
		stringField(fields, "type"),
		stringField(fields, "topic"),
		actionTopic(stringField(fields, "action")),
		query.Get("type"),
		query.Get("topic"),
	} {
		if candidate = strings.ToLower(strings.TrimSpace(candidate)); candidate != "" {
			n.Topic = candidate
			break
		}
	}

	_, hasData := fields["data"]
	candidates := []string{dataID(fields)}
	if !hasData && n.Topic == topicPayment {
		candidates = append(candidates, stringField(fields, "id"))
	}
	candidates = append(candidates,
		resourceID(stringField(fields, "resource")),
		query.Get("data.id"),
		query.Get("id"),
	)
	for _, candidate := range candidates {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			n.PaymentID = candidate
			break
		}
	}
	return n
}

func decodeBody(body []byte) map[string]any {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil
	}
	return fields
}

func dataID(fields map[string]any) string {
	data, ok := fields["data"].(map[string]any)
	if !ok {
		return ""
	}
	return stringField(data, "id")
}

// stringField returns a string or integral number value as a string.
func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return fmt.Sprintf("%d", i)
		}
		return ""
	default:
		return ""
	}
}

func actionTopic(action string) string {
	if action == "" {
		return ""
	}
	topic, _, _ := strings.Cut(action, ".")
	return topic
}

// resourceID accepts either a bare id or a resource URL ending in the id.
func resourceID(resource string) string {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return ""
	}
	if u, err := url.Parse(resource); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return resource
}
