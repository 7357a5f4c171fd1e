// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "fmt"

type LTypeId int

const (
	LTID_INVALID   LTypeId = 0
	LTID_TINYINT   LTypeId = 1
	LTID_SMALLINT  LTypeId = 2
	LTID_MEDINT    LTypeId = 3
	LTID_INT       LTypeId = 4
	LTID_BIGINT    LTypeId = 5
	LTID_UTINYINT  LTypeId = 6
	LTID_USMALLINT LTypeId = 7
	LTID_UMEDINT   LTypeId = 8
	LTID_UINT      LTypeId = 9
	LTID_UBIGINT   LTypeId = 10
	LTID_FLOAT     LTypeId = 11
	LTID_DOUBLE    LTypeId = 12
	LTID_DECIMAL   LTypeId = 13
	LTID_UDECIMAL  LTypeId = 14
	LTID_CHAR      LTypeId = 15
	LTID_VARCHAR   LTypeId = 16
	LTID_TEXT      LTypeId = 17
	LTID_VARBINARY LTypeId = 18
	LTID_DATE      LTypeId = 19
	LTID_DATETIME  LTypeId = 20
	LTID_TIMESTAMP LTypeId = 21
	LTID_TIME      LTypeId = 22
)

var lTypeIdToStr = map[LTypeId]string{
	LTID_INVALID:   "LTID_INVALID",
	LTID_TINYINT:   "LTID_TINYINT",
	LTID_SMALLINT:  "LTID_SMALLINT",
	LTID_MEDINT:    "LTID_MEDINT",
	LTID_INT:       "LTID_INT",
	LTID_BIGINT:    "LTID_BIGINT",
	LTID_UTINYINT:  "LTID_UTINYINT",
	LTID_USMALLINT: "LTID_USMALLINT",
	LTID_UMEDINT:   "LTID_UMEDINT",
	LTID_UINT:      "LTID_UINT",
	LTID_UBIGINT:   "LTID_UBIGINT",
	LTID_FLOAT:     "LTID_FLOAT",
	LTID_DOUBLE:    "LTID_DOUBLE",
	LTID_DECIMAL:   "LTID_DECIMAL",
	LTID_UDECIMAL:  "LTID_UDECIMAL",
	LTID_CHAR:      "LTID_CHAR",
	LTID_VARCHAR:   "LTID_VARCHAR",
	LTID_TEXT:      "LTID_TEXT",
	LTID_VARBINARY: "LTID_VARBINARY",
	LTID_DATE:      "LTID_DATE",
	LTID_DATETIME:  "LTID_DATETIME",
	LTID_TIMESTAMP: "LTID_TIMESTAMP",
	LTID_TIME:      "LTID_TIME",
}

func (id LTypeId) String() string {
	if s, has := lTypeIdToStr[id]; has {
		return s
	}
	return fmt.Sprintf("LTID(%d)", int(id))
}

func (id LTypeId) IsSignedInt() bool {
	return id >= LTID_TINYINT && id <= LTID_BIGINT
}

func (id LTypeId) IsUnsignedInt() bool {
	return id >= LTID_UTINYINT && id <= LTID_UBIGINT
}

func (id LTypeId) IsInteger() bool {
	return id.IsSignedInt() || id.IsUnsignedInt()
}

func (id LTypeId) IsFloat() bool {
	return id == LTID_FLOAT || id == LTID_DOUBLE
}

func (id LTypeId) IsDecimal() bool {
	return id == LTID_DECIMAL || id == LTID_UDECIMAL
}

func (id LTypeId) IsNumeric() bool {
	return id.IsInteger() || id.IsFloat() || id.IsDecimal()
}

func (id LTypeId) IsString() bool {
	return id == LTID_CHAR || id == LTID_VARCHAR ||
		id == LTID_TEXT || id == LTID_VARBINARY
}

func (id LTypeId) IsTemporal() bool {
	return id == LTID_DATE || id == LTID_DATETIME ||
		id == LTID_TIMESTAMP || id == LTID_TIME
}
