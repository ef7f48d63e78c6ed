// Package scheduler keeps a table of named daily triggers on top of robfig/cron.
//
// The scheduler only decides *when* a job runs. Each firing is handed to a
// supervisor goroutine with its own timeout, so a slow or failing job never
// blocks other jobs and never unregisters itself.
package scheduler
