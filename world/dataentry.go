// This file is part of go-mc/server project.
// Copyright (C) 2023.  Tnze
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package world

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// SpaceEntryID identifies one space data entry.
type SpaceEntryID = uuid.UUID

// InvalidDataKey is both the revoke request and the failure result of
// DataEntry.
const InvalidDataKey uint16 = 0xFFFF

var (
	ErrDuplicateEntry = errors.New("duplicate space data entry")
	ErrEntryNotFound  = errors.New("space data entry not found")
)

// dataKey orders entries by key, then id.
type dataKey struct {
	id  SpaceEntryID
	key uint16
}

func (a dataKey) compare(b dataKey) int {
	if c := cmp.Compare(a.key, b.key); c != 0 {
		return c
	}
	return slices.Compare(a.id[:], b.id[:])
}

// DataEntry adds data under id and key, or revokes id when key is
// InvalidDataKey. It returns the key, or InvalidDataKey when the pair is
// already present on add or id is absent on revoke.
func (s *BaseChunkSpace) DataEntry(id SpaceEntryID, key uint16, data []byte) uint16 {
	var k uint16
	var err error
	if key == InvalidDataKey {
		k, err = s.RevokeDataEntry(id)
	} else {
		k, err = s.AddDataEntry(id, key, data)
	}
	if err != nil {
		return InvalidDataKey
	}
	return k
}

// AddDataEntry stores data under the pair (id, key). One id may carry
// several keys.
func (s *BaseChunkSpace) AddDataEntry(id SpaceEntryID, key uint16, data []byte) (uint16, error) {
	if key == InvalidDataKey {
		return InvalidDataKey, fmt.Errorf("add %s: reserved key", id)
	}
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	dk := dataKey{id: id, key: key}
	if _, ok := s.entries[dk]; ok {
		return InvalidDataKey, fmt.Errorf("add %s/%d: %w", id, key, ErrDuplicateEntry)
	}
	s.entries[dk] = slices.Clone(data)
	return key, nil
}

// RevokeDataEntry removes the entry of id with the lowest key and returns
// that key.
func (s *BaseChunkSpace) RevokeDataEntry(id SpaceEntryID) (uint16, error) {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	dk, ok := s.firstOf(id)
	if !ok {
		return InvalidDataKey, fmt.Errorf("revoke %s: %w", id, ErrEntryNotFound)
	}
	delete(s.entries, dk)
	return dk.key, nil
}

// firstOf finds the lowest keyed entry of id. entriesMu must be held.
func (s *BaseChunkSpace) firstOf(id SpaceEntryID) (dataKey, bool) {
	var (
		first dataKey
		found bool
	)
	for dk := range s.entries {
		if dk.id != id {
			continue
		}
		if !found || dk.compare(first) < 0 {
			first, found = dk, true
		}
	}
	return first, found
}

// DataRetrieveSpecific returns the data stored under (id, key). With key
// InvalidDataKey any entry of id will do, the lowest keyed one first.
func (s *BaseChunkSpace) DataRetrieveSpecific(id SpaceEntryID, key uint16) ([]byte, bool) {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	if key == InvalidDataKey {
		dk, ok := s.firstOf(id)
		if !ok {
			return nil, false
		}
		return s.entries[dk], true
	}
	data, ok := s.entries[dataKey{id: id, key: key}]
	return data, ok
}

// DataRetrieveFirst returns the entry under key with the lowest id.
func (s *BaseChunkSpace) DataRetrieveFirst(key uint16) (SpaceEntryID, []byte, bool) {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	var (
		first dataKey
		found bool
	)
	for dk := range s.entries {
		if dk.key != key {
			continue
		}
		if !found || dk.compare(first) < 0 {
			first, found = dk, true
		}
	}
	if !found {
		return SpaceEntryID{}, nil, false
	}
	return first.id, s.entries[first], true
}

func (s *BaseChunkSpace) clearDataEntries() {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	clear(s.entries)
}
