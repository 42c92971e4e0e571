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

package codec

import (
	"bytes"
	"fmt"

	"github.com/modelpack/modenc/pkg/model"
)

// LayoutWriter packs payloads into one contiguous buffer and keeps the
// offset table, so that payload i is buffer[offset[i] : offset[i]+length[i]*size(dtype[i])].
type LayoutWriter struct {
	buf     bytes.Buffer
	cursor  int64
	records []model.WeightRecord
}

// NewLayoutWriter creates an empty layout writer.
func NewLayoutWriter() *LayoutWriter {
	return &LayoutWriter{}
}

// Append records the payload at the current cursor and advances it. The
// payload must be exactly the byte length implied by shape and dtype.
func (w *LayoutWriter) Append(record model.WeightRecord, payload []byte) (model.WeightRecord, error) {
	if err := record.Validate(); err != nil {
		return model.WeightRecord{}, err
	}

	byteLength, err := record.ByteLength()
	if err != nil {
		return model.WeightRecord{}, err
	}

	if int64(len(payload)) != byteLength {
		return model.WeightRecord{}, fmt.Errorf("%s: payload is %d bytes, expected %d", record.Name(), len(payload), byteLength)
	}

	size, _ := model.ElementSize(record.DType)
	record.Offset = w.cursor
	record.Length = byteLength / int64(size)
	record.Data = nil

	w.buf.Write(payload)
	w.cursor += byteLength
	w.records = append(w.records, record)

	return record, nil
}

// Size returns the current buffer length, which is also the next offset.
func (w *LayoutWriter) Size() int64 {
	return w.cursor
}

// Bytes returns the packed buffer.
func (w *LayoutWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// Records returns the offset table in append order.
func (w *LayoutWriter) Records() []model.WeightRecord {
	return w.records
}
