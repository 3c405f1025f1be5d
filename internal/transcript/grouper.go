package transcript

// Conversations holds one message sub-sequence per client. Clients lists the
// client names in order of their first message.
type Conversations struct {
	Clients  []string
	ByClient map[string][]Message
}

// Group partitions the timeline into per-client conversations. Client messages
// join their sender's bucket. A bakery message goes to the nearest client
// message by position: the closest preceding one wins, otherwise the closest
// following one. With no client messages at all, bakery messages are dropped.
func Group(messages []Message) Conversations {
	conv := Conversations{ByClient: make(map[string][]Message)}

	prevClient := make([]string, len(messages))
	last := ""
	for i, m := range messages {
		if m.IsClient {
			last = m.Sender
		}
		prevClient[i] = last
	}
	nextClient := make([]string, len(messages))
	next := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsClient {
			next = messages[i].Sender
		}
		nextClient[i] = next
	}

	for i, m := range messages {
		owner := m.Sender
		if !m.IsClient {
			owner = prevClient[i]
			if owner == "" {
				owner = nextClient[i]
			}
			if owner == "" {
				continue
			}
		}
		if _, ok := conv.ByClient[owner]; !ok {
			conv.Clients = append(conv.Clients, owner)
		}
		conv.ByClient[owner] = append(conv.ByClient[owner], m)
	}
	return conv
}
