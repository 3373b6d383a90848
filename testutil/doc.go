/*
Package testutil provides shared helpers for flowstream tests.

# Overview

Tests across packages use the same instrumented sources and waiting helpers
instead of rolling their own.

# Capabilities

  - Contexts: TestContext / CancelledContext, with
    cleanup registered automatically
  - Eventual assertions: AssertEventuallyTrue / WaitFor /
    WaitForChannel
  - Sources: CountingReader (bytes, reads and closes counted), SizedReader
    (also reports Len), FailingReader (fails instead of EOF),
    BlockingReader (blocks until closed)
  - Data: Payload / Sequence
  - TLS: SelfSignedCert for loopback HTTPS tests

# Example

	src := testutil.NewCountingReader(testutil.Payload(1<<16, 1))
	p, err := mgr.Manage(testutil.TestContext(t), src, rootID)
	require.NoError(t, err)
	assert.EqualValues(t, 1<<16, src.BytesRead())
*/
package testutil
