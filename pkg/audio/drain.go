package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it when nobody presents a streaming channel (e.g. the interim
// transcripts of a headless evaluation run) so the producer never blocks.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
