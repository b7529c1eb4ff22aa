// Package natsclient owns the certificate manager's NATS connection. It adds
// a circuit breaker around dialing and bucket creation, reconnect callbacks,
// get-or-create for JetStream KV buckets, and KVStore, the bucket wrapper the
// persistent certificate store is built on.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithClientName("certmgr"))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	bucket, err := client.EnsureBucket(ctx, jetstream.KeyValueConfig{Bucket: "certmgr_store"})
//	kv := client.NewKVStore(bucket, natsclient.WithPutRetries(5))
//
// Five consecutive failures open the circuit; Connect and EnsureBucket then
// fail with ErrCircuitOpen until the backoff elapses. Each trip doubles the
// backoff up to the limit given to WithCircuitBreaker.
//
// StartTestServer runs NATS in a container for the integration tests
// (build tag integration).
package natsclient
