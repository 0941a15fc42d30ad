// Package classifier turns a free-text request into a task classification.
//
// Classification is an ordered pipeline of stages. Each stage sees the
// candidate produced so far and either finalizes a result or defers to the
// next stage. The default pipeline is:
//
//  1. ModelStage asks the completion model for a structured guess and always defers.
//  2. KeywordStage finalizes an authentication result when the text names both an
//     authentication intent and a service, overriding whatever the model said.
//
// If no stage yields a candidate the pipeline returns TaskUnknown with low
// confidence. Classify never fails.
package classifier
