// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hardware

import (
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"

	"github.com/lk2023060901/fest-go/pkg/log"
)

var (
	icOnce sync.Once
	ic     bool
	icErr  error
)

// GetCPUNum 返回可用的 CPU 核数，优先使用 runtime.GOMAXPROCS 的结果。
// automaxprocs 生效后 GOMAXPROCS 已按 cgroup 限额修正。
func GetCPUNum() int {
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	cur, err := cpu.Counts(true)
	if err != nil || cur <= 0 {
		log.Warn("failed to get cpu counts, use runtime.NumCPU", zap.Error(err))
		return runtime.NumCPU()
	}
	return cur
}

// GetPhysicalCPUNum 返回物理核数，获取失败时返回逻辑核数。
func GetPhysicalCPUNum() int {
	n, err := cpu.Counts(false)
	if err != nil || n <= 0 {
		return GetCPUNum()
	}
	return n
}

// InContainer 粗略判断当前进程是否运行在容器内。
func InContainer() (bool, error) {
	icOnce.Do(func() {
		ic, icErr = inContainer()
	})
	return ic, icErr
}
