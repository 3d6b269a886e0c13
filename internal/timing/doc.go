// Package timing is the adaptive timing store the planner learns from.
//
// Every executed plan step records its duration under a normalised pattern
// key. The store keeps a bounded history of the most recent samples per key and an
// LRU cache of derived cost estimates. Recording a sample invalidates the
// cached estimate for that key, so the next estimate reflects it.
//
// Memory is bounded on both axes: samples per key (HistoryCapacity) and
// number of keys tracked (MaxPatterns); the estimate cache holds at most
// CacheCapacity entries.
package timing
