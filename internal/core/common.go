/*
topdomains — fast tool in Go for exporting and checking top-domain lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package core

// Row is one record of the input file. Only Fields[column] is consumed by
// the exporter; the rank and any trailing fields are carried along.
type Row struct {
	Line   int // 1-based line the record started on.
	Fields []string
}

// Field returns the field at idx and whether the row is long enough.
func (r Row) Field(idx int) (string, bool) {
	if idx < 0 || idx >= len(r.Fields) {
		return "", false
	}
	return r.Fields[idx], true
}

const (
	tokenOpen  = "'"
	tokenClose = "', "
)

// AppendToken appends the token for value to dst: the value in single
// quotes followed by a comma and a space. The value is not escaped; domain
// names cannot contain quotes or commas.
func AppendToken(dst []byte, value string) []byte {
	dst = append(dst, tokenOpen...)
	dst = append(dst, value...)
	return append(dst, tokenClose...)
}

// FormatToken is the string form of AppendToken.
func FormatToken(value string) string {
	return string(AppendToken(make([]byte, 0, len(value)+len(tokenOpen)+len(tokenClose)), value))
}

// WrapperPrefix and WrapperSuffix enclose the fragment when a variable name
// is configured, turning it into an importable ES module.
func WrapperPrefix(varName string) string {
	return "export const " + varName + " = ["
}

// WrapperSuffix closes what WrapperPrefix opened.
func WrapperSuffix() string {
	return "];\n"
}
