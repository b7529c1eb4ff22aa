// Package testutil provides shared test fixtures: throwaway certificate
// authorities able to issue certificates with arbitrary validity windows, and
// an in-memory NATS publisher for notification tests.
package testutil
