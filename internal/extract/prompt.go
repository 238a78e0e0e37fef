package extract

import (
	"fmt"
	"strings"

	"github.com/kgraphrag/kgraphrag/internal/record"
)

// extractionPromptTemplate is the per-chunk extraction instruction: few-shot
// examples, the delimiter grammar, the entity-type list, and the input text.
const extractionPromptTemplate = `-Goal-
Given a text document, identify all entities of the given types and all relationships among the identified entities, plus higher-order structures: multi-hop paths, latent relations, and associations.

-Steps-
1. Identify all entities. For each, extract:
- entity_name: name of the entity, capitalized
- entity_type: one of [%[2]s]
- entity_description: comprehensive description of the entity's attributes and activities
Format each entity as ("entity"%[1]s<entity_name>%[1]s<entity_type>%[1]s<entity_description>%[1]s<additional_properties>%[1]s<entity_community>)

2. From the entities identified in step 1, identify all pairs of (source_entity, target_entity) that are clearly related. For each pair, extract:
- source_entity, target_entity: names as identified in step 1
- relationship_description: why the entities are related
- relationship_keywords: one or more high-level keywords summarizing the relationship
- relationship_strength: numeric score indicating strength
Format each relationship as ("relationship"%[1]s<source_entity>%[1]s<target_entity>%[1]s<relationship_description>%[1]s<relationship_keywords>%[1]s<relationship_strength>)

3. Identify ordered chains of three or more entities connected through intermediate steps. Format each as ("multi_hop"%[1]s<entity_1>%[1]s<entity_2>%[1]s<entity_3>%[1]s<path_description>%[1]s<path_strength>)

4. Identify implicit relationships between entity pairs that are never directly co-mentioned but are clearly connected. Format each as ("latent_relation"%[1]s<source_entity>%[1]s<target_entity>%[1]s<relationship_description>%[1]s<relationship_keywords>%[1]s<relationship_strength>)

5. Identify clusters of three or more entities that form a coherent higher-order grouping. Format each as ("Association"%[1]s<entity_1>%[1]s<entity_2>%[1]s<entity_3>%[1]s<strength>%[1]s<concrete_description>%[1]s<generalization>)

6. Identify high-level keywords summarizing the main concepts of the whole text. Format as ("content_keywords"%[1]s<comma_separated_keywords>)

7. Return output in %[3]s as a single list of all entities and relationships identified in steps 1-6, using **%[4]s** as the list delimiter.

8. When finished, output %[5]s

-Examples-
%[6]s

-Real Data-
Entity_types: [%[2]s]
%[7]s
Text: %[8]s

Output:`

// extractionExamples are the few-shot examples embedded in the extraction
// prompt; ExampleNumber selects how many are included.
var extractionExamples = []string{
	`Entity_types: [person, organisation, geography]
Text: Alex joined TechCorp after leaving Berlin, where her mentor Sam still runs DataWorks.

Output:
("entity"<|>ALEX<|>person<|>Alex is a professional who joined TechCorp after leaving Berlin.<|><|>)##
("entity"<|>TECHCORP<|>organisation<|>TechCorp is the company Alex joined.<|><|>)##
("entity"<|>BERLIN<|>geography<|>Berlin is the city Alex left.<|><|>)##
("entity"<|>SAM<|>person<|>Sam is Alex's mentor who runs DataWorks.<|><|>)##
("entity"<|>DATAWORKS<|>organisation<|>DataWorks is the company Sam runs in Berlin.<|><|>)##
("relationship"<|>ALEX<|>TECHCORP<|>Alex joined TechCorp as an employee.<|>employment<|>0.9)##
("relationship"<|>ALEX<|>BERLIN<|>Alex previously lived in Berlin.<|>residence<|>0.7)##
("relationship"<|>SAM<|>DATAWORKS<|>Sam runs DataWorks.<|>leadership<|>0.9)##
("multi_hop"<|>ALEX<|>SAM<|>DATAWORKS<|>Alex is connected to DataWorks through her mentor Sam.<|>0.6)##
("latent_relation"<|>ALEX<|>DATAWORKS<|>Alex has an implicit connection to DataWorks via her mentorship under Sam.<|>mentorship network<|>0.5)##
("content_keywords"<|>career change, mentorship, technology companies)<|COMPLETE|>`,
	`Entity_types: [organisation, event, geography]
Text: The Vienna Accord was signed by Nordbank and the Civic Alliance, ending the dispute over the Danube ports.

Output:
("entity"<|>VIENNA ACCORD<|>event<|>The Vienna Accord is an agreement ending the dispute over the Danube ports.<|><|>)##
("entity"<|>NORDBANK<|>organisation<|>Nordbank is a signatory of the Vienna Accord.<|><|>)##
("entity"<|>CIVIC ALLIANCE<|>organisation<|>The Civic Alliance is a signatory of the Vienna Accord.<|><|>)##
("entity"<|>DANUBE PORTS<|>geography<|>The Danube ports were the subject of the dispute the Vienna Accord settled.<|><|>)##
("relationship"<|>NORDBANK<|>VIENNA ACCORD<|>Nordbank signed the Vienna Accord.<|>agreement, signature<|>0.9)##
("relationship"<|>CIVIC ALLIANCE<|>VIENNA ACCORD<|>The Civic Alliance signed the Vienna Accord.<|>agreement, signature<|>0.9)##
("Association"<|>NORDBANK<|>CIVIC ALLIANCE<|>VIENNA ACCORD<|>0.8<|>Signatories and subject of a settlement agreement.<|>Parties to a negotiated settlement.)##
("content_keywords"<|>diplomacy, settlement, trade infrastructure)<|COMPLETE|>`,
}

// continueExtractionPrompt asks for missed records (gleaning).
const continueExtractionPrompt = `MANY entities and relationships were missed in the last extraction. Add them below using the same format:`

// loopCheckPrompt asks whether another gleaning round is warranted.
const loopCheckPrompt = `It appears some entities and relationships may have still been missed. Answer YES or NO if there are still entities or relationships that need to be added.`

// buildExtractionPrompt formats the extraction prompt for one chunk.
func buildExtractionPrompt(text, language string, entityTypes []string, exampleNumber int, hints string) string {
	if language == "" {
		language = "English"
	}
	if exampleNumber <= 0 || exampleNumber > len(extractionExamples) {
		exampleNumber = len(extractionExamples)
	}
	examples := strings.Join(extractionExamples[:exampleNumber], "\n\n")

	hintLine := ""
	if hints != "" {
		hintLine = fmt.Sprintf("Entity hints (from local NER, advisory only): %s\n", hints)
	}

	return fmt.Sprintf(extractionPromptTemplate,
		record.TupleDelimiter,
		strings.Join(entityTypes, ", "),
		language,
		record.RecordDelimiter,
		record.CompletionDelimiter,
		examples,
		hintLine,
		text,
	)
}
