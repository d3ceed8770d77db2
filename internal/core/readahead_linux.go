//go:build linux
// +build linux

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

import (
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// adviseSequential tells the kernel the input is read once, front to back,
// so it can read ahead aggressively and drop pages behind us.
// Failure only costs throughput and is logged at debug level.
func adviseSequential(f *os.File, logger *zap.Logger) {
	fd := int(f.Fd())
	if err := unix.Fadvise(fd, 0, 0, unix.FADV_SEQUENTIAL); err != nil {
		logger.Debug("fadvise(SEQUENTIAL) failed", zap.String("path", f.Name()), zap.Error(err))
		return
	}
	if err := unix.Fadvise(fd, 0, 0, unix.FADV_NOREUSE); err != nil {
		logger.Debug("fadvise(NOREUSE) failed", zap.String("path", f.Name()), zap.Error(err))
	}
}
