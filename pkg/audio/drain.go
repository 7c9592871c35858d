package audio

// Drain consumes and discards all remaining items from a channel until it is
// closed. Use it to release producers blocked on a channel the consumer has
// abandoned, such as a reply stream cut short by barge-in.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
