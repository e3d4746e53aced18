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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const sessionSubsystem = "session"

var (
	SessionActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: festNamespace,
		Subsystem: sessionSubsystem,
		Name:      "active",
		Help:      "当前注册表中的会话数量",
	})

	SessionCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: festNamespace,
		Subsystem: sessionSubsystem,
		Name:      "commands_total",
		Help:      "管理循环已处理的命令数量",
	}, []string{commandLabelName})

	SessionFrontendEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: festNamespace,
		Subsystem: sessionSubsystem,
		Name:      "frontend_events_total",
		Help:      "已投递到前端通道的事件数量",
	}, []string{eventLabelName})

	SessionSyncRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: festNamespace,
		Subsystem: sessionSubsystem,
		Name:      "sync_requests_total",
		Help:      "同步请求次数",
	}, []string{resultLabelName})

	SessionSyncLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: festNamespace,
		Subsystem: sessionSubsystem,
		Name:      "sync_latency_milliseconds",
		Help:      "单次同步请求耗时",
		Buckets:   buckets,
	})

	SessionTaskExitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: festNamespace,
		Subsystem: sessionSubsystem,
		Name:      "task_exits_total",
		Help:      "同步任务退出次数",
	}, []string{reasonLabelName})

	SessionOpFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: festNamespace,
		Subsystem: sessionSubsystem,
		Name:      "op_failures_total",
		Help:      "会话操作失败次数",
	}, []string{stageLabelName})

	// SessionOpWorkers 为会话命令协程池的 worker 数量，按 running/free 区分。
	SessionOpWorkers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: festNamespace,
		Subsystem: sessionSubsystem,
		Name:      "op_workers",
		Help:      "会话命令协程池的 worker 数量",
	}, []string{stateLabelName})
)

func registerSessionMetrics(r prometheus.Registerer) {
	r.MustRegister(SessionActive)
	r.MustRegister(SessionCommandsTotal)
	r.MustRegister(SessionFrontendEventsTotal)
	r.MustRegister(SessionSyncRequestsTotal)
	r.MustRegister(SessionSyncLatency)
	r.MustRegister(SessionTaskExitsTotal)
	r.MustRegister(SessionOpFailuresTotal)
	r.MustRegister(SessionOpWorkers)
}
