// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides HTTP request handlers for the orchestrator
// service.
//
// This file implements secure accumulation of streamed answer text.
// Deltas are stored in mlocked memory so corporate document content is
// never swapped to disk, and are incrementally hashed for audit logs.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// SecureBufferSize is the mlocked buffer capacity for one answer.
	// 512 KB covers long answers with ample headroom.
	SecureBufferSize = 512 * 1024

	// MinMlockLimitKB is the minimum RLIMIT_MEMLOCK required, in KB.
	MinMlockLimitKB = 512

	// insecureMemoryEnv acknowledges running without mlock protection.
	insecureMemoryEnv = "ANSWERDOCK_INSECURE_MEMORY"
)

var (
	memguardInitOnce    sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// AnswerAccumulator collects streamed answer deltas for finalization.
//
// # Description
//
// Abstracts delta storage during answer streaming so the coordinator
// works identically over secure (mlocked) and fallback storage. Deltas
// are hashed incrementally as they arrive; Finalize returns the full
// answer and its SHA-256 for the audit log, then wipes the buffer.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
//
// # Limitations
//
//   - Fixed capacity; an overflow poisons the accumulator
//   - Unusable after Finalize() or Destroy()
type AnswerAccumulator interface {
	// Write appends one delta. Returns an error on overflow or after
	// the accumulator has been destroyed.
	Write(delta string) error

	// Finalize returns the accumulated answer and its hex SHA-256,
	// then wipes the buffer. Can be called once.
	Finalize() (answer string, digest string, err error)

	// Destroy wipes the buffer without returning data. Idempotent.
	Destroy()

	// ID returns the accumulator's UUID for log correlation.
	ID() string

	// CreatedAt returns when this accumulator was created.
	CreatedAt() time.Time
}

// =============================================================================
// Secure Implementation
// =============================================================================

// secureAccumulator stores deltas in a memguard LockedBuffer: mlocked
// against swapping, guard pages on both sides, wiped on destroy.
type secureAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// NewAnswerAccumulator creates an accumulator backed by mlocked memory.
//
// # Description
//
// Allocates a LockedBuffer of SecureBufferSize bytes. When the mlock
// limit is insufficient, returns an error unless the operator set
// ANSWERDOCK_INSECURE_MEMORY=true, in which case a plain-memory
// fallback is returned with a warning.
//
// # Outputs
//
//   - AnswerAccumulator: Secure or fallback, based on system limits
//   - error: Non-nil if allocation failed and no fallback is allowed
func NewAnswerAccumulator() (AnswerAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		if os.Getenv(insecureMemoryEnv) == "true" {
			return newFallbackAccumulator(), nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB. "+
				"Raise RLIMIT_MEMLOCK or set %s=true",
			currentMlockLimitKB, MinMlockLimitKB, insecureMemoryEnv)
	}

	buf := memguard.NewBuffer(SecureBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", SecureBufferSize)
	}
	buf.Melt()

	a := &secureAccumulator{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}
	slog.Debug("Created secure answer accumulator",
		"accumulator_id", a.id,
		"buffer_size", SecureBufferSize)
	return a, nil
}

func (a *secureAccumulator) Write(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflow - answer too large")
	}
	if a.offset+len(delta) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			len(delta), SecureBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], delta)
	a.offset += len(delta)
	a.hasher.Write([]byte(delta))
	return nil
}

func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized secure answer accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer))
	return answer, digest, nil
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.wipe()
}

func (a *secureAccumulator) ID() string           { return a.id }
func (a *secureAccumulator) CreatedAt() time.Time { return a.createdAt }

func (a *secureAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// =============================================================================
// Fallback Implementation
// =============================================================================

// fallbackAccumulator uses ordinary Go memory. Same interface, none of
// the mlock guarantees: data may be swapped and the GC may keep copies.
type fallbackAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func newFallbackAccumulator() AnswerAccumulator {
	a := &fallbackAccumulator{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		data:      make([]byte, 0, SecureBufferSize),
		hasher:    sha256.New(),
	}
	slog.Warn("Created INSECURE answer accumulator - data may be swapped to disk",
		"accumulator_id", a.id)
	return a
}

func (a *fallbackAccumulator) Write(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow - answer too large")
	}
	if len(a.data)+len(delta) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(delta), SecureBufferSize-len(a.data))
	}

	a.data = append(a.data, delta...)
	a.hasher.Write([]byte(delta))
	return nil
}

func (a *fallbackAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, digest, nil
}

func (a *fallbackAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.wipe()
}

func (a *fallbackAccumulator) ID() string           { return a.id }
func (a *fallbackAccumulator) CreatedAt() time.Time { return a.createdAt }

// wipe zeros the slice, best effort under GC.
func (a *fallbackAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// =============================================================================
// Initialization
// =============================================================================

// initMemguard checks RLIMIT_MEMLOCK once and arms memguard's
// interrupt handler so buffers are wiped on SIGINT/SIGTERM.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB)
		} else {
			slog.Error("mlock limit insufficient for secure memory",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
				"help", "raise RLIMIT_MEMLOCK or set "+insecureMemoryEnv+"=true")
		}
	})
}

func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// PurgeAllSecureMemory wipes all memguard-allocated memory. Called
// during graceful shutdown.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}

var (
	_ AnswerAccumulator = (*secureAccumulator)(nil)
	_ AnswerAccumulator = (*fallbackAccumulator)(nil)
)
