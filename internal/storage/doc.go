// Package storage persists what the bot did: quiz deliveries and operator
// commands. The file driver appends JSON Lines; the sqlite driver keeps the
// same records in tables and can also hold the question bank.
package storage
