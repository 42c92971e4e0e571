/*
 *     Copyright 2024 The CNAI Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package backend

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// State is a step of the encoding state machine.
type State string

const (
	StateInit      State = "init"
	StateOpened    State = "opened"
	StateExtracted State = "extracted"
	StateQuantized State = "quantized"
	StateAppended  State = "appended"
	StateEmbedded  State = "embedded"
	StateRecorded  State = "recorded"
	StateFinalized State = "finalized"
	StateFailed    State = "failed"
)

// transitions lists the states reachable from each state. Failed is
// reachable from every non terminal state.
var transitions = map[State][]State{
	StateInit:      {StateOpened},
	StateOpened:    {StateExtracted, StateFinalized},
	StateExtracted: {StateQuantized, StateAppended, StateEmbedded},
	StateQuantized: {StateAppended, StateEmbedded},
	StateAppended:  {StateRecorded},
	StateEmbedded:  {StateRecorded},
	StateRecorded:  {StateExtracted, StateFinalized},
}

// machine tracks the state of one encoding run.
type machine struct {
	source string
	state  State
}

func newMachine(source string) *machine {
	return &machine{source: source, state: StateInit}
}

// to moves the machine to the next state.
func (m *machine) to(next State, subject string) error {
	if !canTransit(m.state, next) {
		return fmt.Errorf("invalid encode state transition %s -> %s", m.state, next)
	}

	logrus.Debugf("encode: %s %s -> %s %s", m.source, m.state, next, subject)
	m.state = next
	return nil
}

// fail moves the machine to the terminal failed state.
func (m *machine) fail(err error) {
	logrus.Errorf("encode: %s %s -> %s: %v", m.source, m.state, StateFailed, err)
	m.state = StateFailed
}

func canTransit(from, to State) bool {
	if to == StateFailed {
		return from != StateFinalized && from != StateFailed
	}

	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}
