/*
Package locktree implements a sorted key-value container for concurrent use, with interchangeable locking
strategies.

Keys and values

Keys and values are arbitrary byte slices, including empty ones. Keys are ordered by Compare: lexicographically,
byte by byte, where a key that is a prefix of another one sorts first. Storing a key that is already present
replaces its value. The tree copies the keys and values it receives, and Get returns a copy of the stored value,
so the callers are free to reuse their slices. A missing key is reported by the boolean result of Get, never by an
empty value.

Shape

The tree is a plain binary search tree and it is never rebalanced. Depending on the insertion order, its height
may grow up to the number of stored keys, in which case the operations take linear time. There is no deletion
and no iteration.

Locking

Every operation acquires a lock from the Locker of the tree for its whole duration. NewCoarse uses a single
exclusive lock, serializing every call, including concurrent lookups. NewReadWrite uses RWLock, where lookups
share the lock and insertions exclude everything else. Custom strategies can be passed to New.

Fairness

RWLock grants the lock in the same order as it was requested, regardless of the type of the request. Concurrent
lookups proceed together, but a lookup requested after a pending insertion waits for that insertion to complete.

Cancellation

PutContext and GetContext give up waiting for the lock when their context is done. In this case they return the
context's error, and the lock is not held. Put and Get wait without a limit.
*/
package locktree
