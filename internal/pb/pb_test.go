/*
 *     Copyright 2025 The CNAI Authors
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

package pb

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePrompt(t *testing.T) {
	assert.Equal(t, "Encoding =>", NormalizePrompt(PromptEncoding))
}

func TestProgressBar(t *testing.T) {
	SetDisableProgress(true)
	defer SetDisableProgress(false)

	p := NewProgressBar()
	p.Start()

	payload := []byte("0123456789")
	reader := p.Add(NormalizePrompt(PromptEncoding), "dense_1/kernel", int64(len(payload)), bytes.NewReader(payload))
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// A second add of the same name passes the reader through.
	again := bytes.NewReader(payload)
	assert.Same(t, io.Reader(again), p.Add(NormalizePrompt(PromptEncoding), "dense_1/kernel", 10, again))

	p.Complete("dense_1/kernel", "Encoded dense_1/kernel")
	p.Add(NormalizePrompt(PromptEncoding), "dense_1/bias", 4, bytes.NewReader(payload[:4]))
	p.Abort("dense_1/bias", errors.New("unsupported"))
	p.Complete("unknown", "ignored")
	p.Stop()
}
