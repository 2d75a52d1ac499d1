package harness

// DefaultQuestions is the built-in battery, phrased against a generic
// customer-behavior dataset with numeric and categorical columns.
func DefaultQuestions() []Question {
	return []Question{
		// Basic dataset information
		{ID: 1, Question: "What columns does this dataset have and what are their types?", Category: "basic_info", ExpectedType: "info", Difficulty: "easy"},
		{ID: 2, Question: "How many rows and columns are in the data?", Category: "basic_info", ExpectedType: "info", Difficulty: "easy"},
		{ID: 3, Question: "Show me the first 5 rows of the dataset", Category: "basic_info", ExpectedType: "data", Difficulty: "easy"},
		{ID: 4, Question: "Which columns have missing values?", Category: "basic_info", ExpectedType: "info", Difficulty: "easy"},

		// Calculations
		{ID: 5, Question: "What is the average Income?", Category: "calculation", ExpectedType: "calculation", Difficulty: "easy"},
		{ID: 6, Question: "What is the total PurchaseFrequency across all customers?", Category: "calculation", ExpectedType: "calculation", Difficulty: "easy"},
		{ID: 7, Question: "What are the minimum and maximum Age values?", Category: "calculation", ExpectedType: "calculation", Difficulty: "easy"},
		{ID: 8, Question: "Count the customers per Region", Category: "calculation", ExpectedType: "calculation", Difficulty: "medium"},

		// Statistical analysis
		{ID: 9, Question: "Analyze the correlation between Income and PurchaseFrequency", Category: "statistical_analysis", ExpectedType: "analysis", Difficulty: "medium"},
		{ID: 10, Question: "Compare the average AvgOrderValue between regions and describe the pattern", Category: "statistical_analysis", ExpectedType: "analysis", Difficulty: "medium"},
		{ID: 11, Question: "Is there a trend between TenureMonths and CustomerLifetimeValue? Give an insight", Category: "statistical_analysis", ExpectedType: "analysis", Difficulty: "hard"},

		// Visualizations
		{ID: 12, Question: "Create a bar chart of customer counts by Region", Category: "visualization", ExpectedType: "visualization", Difficulty: "medium"},
		{ID: 13, Question: "Plot a histogram of Income", Category: "visualization", ExpectedType: "visualization", Difficulty: "medium"},
		{ID: 14, Question: "Create a scatter plot of Income vs AvgOrderValue", Category: "visualization", ExpectedType: "visualization", Difficulty: "medium"},
		{ID: 15, Question: "Visualize average EngagementScore by MarketingChannel as a bar chart", Category: "visualization", ExpectedType: "visualization", Difficulty: "hard"},
	}
}
