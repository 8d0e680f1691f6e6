// Package atomic provides typed wrappers over sync/atomic, mirroring the
// teacher's own internal cmn/atomic convention (advisory flags only --
// see the concurrency model notes in SPEC_FULL.md section 5).
package atomic

import "sync/atomic"

type Bool struct{ v atomic.Bool }

func (b *Bool) Load() bool         { return b.v.Load() }
func (b *Bool) Store(val bool)     { b.v.Store(val) }
func (b *Bool) CAS(old, new bool) bool { return b.v.CompareAndSwap(old, new) }

type Int64 struct{ v atomic.Int64 }

func (i *Int64) Load() int64     { return i.v.Load() }
func (i *Int64) Store(val int64) { i.v.Store(val) }
func (i *Int64) Add(delta int64) int64 { return i.v.Add(delta) }

type Int32 struct{ v atomic.Int32 }

func (i *Int32) Load() int32     { return i.v.Load() }
func (i *Int32) Store(val int32) { i.v.Store(val) }
func (i *Int32) Add(delta int32) int32 { return i.v.Add(delta) }
