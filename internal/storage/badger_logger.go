// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"log/slog"

	"github.com/blinklabs-io/mamba/internal/logging"
)

// BadgerLogger is a wrapper type to give our logger the expected interface
type BadgerLogger struct {
	logger *slog.Logger
}

func NewBadgerLogger() *BadgerLogger {
	return &BadgerLogger{
		logger: logging.GetLogger(),
	}
}

func (b *BadgerLogger) Infof(msg string, args ...any) {
	b.logger.Info(msg, args...)
}

func (b *BadgerLogger) Warningf(msg string, args ...any) {
	b.logger.Warn(msg, args...)
}

func (b *BadgerLogger) Debugf(msg string, args ...any) {
	b.logger.Debug(msg, args...)
}

func (b *BadgerLogger) Errorf(msg string, args ...any) {
	b.logger.Error(msg, args...)
}
