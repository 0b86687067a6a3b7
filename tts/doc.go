// Package tts synthesizes translated transcript segments into speech audio.
//
// The package has two layers. The Vendor interface speaks one synthesis
// provider's HTTP API and returns raw audio bytes; XTTSVendor implements an
// XTTS-compatible API with catalog voices and reference-audio cloning. The
// Client layers voice resolution, retries with backoff, a concurrency
// semaphore, and ordered batch processing on top of any Vendor.
package tts
