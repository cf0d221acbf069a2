// Package redis persists the intent rotation cursor in Redis so a restarted
// grinder continues from where the previous process stopped.
package redis
