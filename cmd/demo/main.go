// Copyright 1999-2020 Alibaba Group Holding Ltd.
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

// Command demo fires synthetic traffic at one resource guarded by a
// single QPS flow rule and reports how many calls passed and how many were
// blocked: per call with -verbose, otherwise as a final summary.
package main

import (
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/shieldflow/shieldflow/api"
	"github.com/shieldflow/shieldflow/core/flow"
)

func main() {
	resource := flag.String("resource", "demo-resource", "resource name to guard")
	qps := flag.Float64("qps", 10, "QPS threshold")
	behavior := flag.String("behavior", "reject", "control behavior: reject|rate-limit|warm-up")
	warmUpSec := flag.Int("warmup-sec", 5, "warm-up period in seconds, used when behavior=warm-up")
	maxQueueMs := flag.Int64("max-queue-ms", 0, "max queueing time in ms for reject/rate-limit priority occupancy")
	duration := flag.Duration("duration", 10*time.Second, "how long to generate traffic")
	concurrency := flag.Int("concurrency", 4, "number of concurrent callers")
	verbose := flag.Bool("verbose", false, "print every call's outcome and request id")
	flag.Parse()

	if err := api.InitDefault(api.InitOptions{}); err != nil {
		fmt.Println("init failed:", err)
		return
	}

	controlBehavior := flow.Reject
	switch *behavior {
	case "rate-limit":
		controlBehavior = flow.RateLimit
	case "warm-up":
		controlBehavior = flow.WarmUp
	}

	rule := &flow.Rule{
		Resource:          *resource,
		Grade:             flow.QPS,
		Count:             *qps,
		ControlBehavior:   controlBehavior,
		WarmUpPeriodSec:   *warmUpSec,
		MaxQueueingTimeMs: *maxQueueMs,
	}
	if err := flow.LoadRules([]*flow.Rule{rule}); err != nil {
		fmt.Println("failed to load rule:", err)
		return
	}

	var (
		passed  int64
		blocked int64
		mu      sync.Mutex
	)

	stop := time.After(*duration)
	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				entry, blockErr := api.InboundEntry(*resource)
				if blockErr != nil {
					mu.Lock()
					blocked++
					mu.Unlock()
					if *verbose {
						fmt.Printf("blocked: %s\n", blockErr.Error())
					}
					continue
				}
				mu.Lock()
				passed++
				mu.Unlock()
				if *verbose {
					fmt.Printf("passed: request_id=%s\n", entry.EntryContext().RequestID)
				}
				entry.Exit()
			}
		}()
	}
	wg.Wait()

	fmt.Printf("resource=%s behavior=%s passed=%d blocked=%d\n", *resource, *behavior, passed, blocked)
}
