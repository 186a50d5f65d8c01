// Package topics parses and matches the dot-segmented topic patterns used for
// publish/subscribe routing.
//
// A pattern is a sequence of segments separated by '.':
//
//	chat.message.sent      literal segments, exact match only
//	chat.{room}.sent       {room} matches any single non-empty segment
//	chat.{}.sent           anonymous wildcard, same behaviour
//	chat.>                 "chat" followed by zero or more further segments
//	>                      every topic
//
// The characters '{', '}', '.', '\' and '>' must be escaped with a backslash
// inside a literal segment, so `a\.b` is a single segment matching the topic
// "a.b". Wildcard names are cosmetic and never take part in matching.
package topics
