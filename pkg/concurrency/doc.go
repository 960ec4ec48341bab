/*
Package concurrency provides advanced concurrency primitives with observability.

Features:
  - SmartMutex / SmartRWMutex: Deadlock detection and slow lock logging
  - WorkerPool: Goroutine pool for offloading long-running work off a caller's goroutine
  - SafeGo: panic-isolated goroutine launch
*/
package concurrency
