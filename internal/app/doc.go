// Package app holds the application loop that drives the demo: the Generator
// mutates the shared counters on a fixed period and hands each tick's events
// to a domain.Publisher. Depends on domain interfaces, not concrete implementations.
package app
