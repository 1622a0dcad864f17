// Package schedule provides cron expression handling and supervised
// background execution.
//
// Cron functions parse and validate cron expressions and compute upcoming run times.
// Supervisor runs background tasks with panic recovery and drains them on shutdown.
package schedule
